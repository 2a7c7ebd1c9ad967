package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/srs"
)

// ReviewItem is one learnable unit tracked for a user: its display data,
// scheduling state, lifetime statistics and organization.
type ReviewItem struct {
	ID          string             `json:"id" validate:"required"`
	UserID      string             `json:"userId" validate:"required"`
	ContentType lexeme.ContentType `json:"contentType" validate:"required,oneof=kana kanji vocabulary sentence phrase grammar custom"`
	ContentID   string             `json:"contentId"`

	// Denormalized display data.
	PrimaryText   string `json:"primaryText" validate:"required"`
	SecondaryText string `json:"secondaryText"`
	TertiaryText  string `json:"tertiaryText"`
	AudioURL      string `json:"audioUrl"`
	ImageURL      string `json:"imageUrl"`

	// Scheduling state.
	Status         srs.Status `json:"status" validate:"required,oneof=NEW LEARNING MASTERED"`
	Interval       int        `json:"interval" validate:"gte=0"`
	EaseFactor     float64    `json:"easeFactor" validate:"gte=1.3,lte=2.5"`
	Repetitions    int        `json:"repetitions" validate:"gte=0"`
	LastReviewedTs *int64     `json:"lastReviewedAt,omitempty"`
	NextReviewTs   int64      `json:"nextReviewAt"`

	// Statistics.
	ReviewCount    int   `json:"reviewCount" validate:"gte=0"`
	CorrectCount   int   `json:"correctCount" validate:"gte=0"`
	IncorrectCount int   `json:"incorrectCount" validate:"gte=0"`
	CurrentStreak  int   `json:"currentStreak" validate:"gte=0"`
	BestStreak     int   `json:"bestStreak" validate:"gte=0"`
	AvgResponseMs  int64 `json:"avgResponseMs" validate:"gte=0"`

	// Organization.
	Tags     []string `json:"tags"`
	SetIDs   []string `json:"setIds"`
	Priority Priority `json:"priority" validate:"required,oneof=LOW NORMAL HIGH"`
	PinnedTs *int64   `json:"pinnedAt,omitempty"`

	// Lifecycle.
	RowStatus RowStatus `json:"rowStatus" validate:"required,oneof=NORMAL ARCHIVED"`
	Version   int64     `json:"version" validate:"gte=1"`
	CreatedTs int64     `json:"createdAt"`
	UpdatedTs int64     `json:"updatedAt"`
}

// SchedulingState projects the item onto the calculator's input.
func (i *ReviewItem) SchedulingState() srs.State {
	return srs.State{
		Interval:    i.Interval,
		EaseFactor:  i.EaseFactor,
		Repetitions: i.Repetitions,
	}
}

// ApplyReview folds one review outcome into the item: scheduling state from
// the calculator result, then the running statistics.
func (i *ReviewItem) ApplyReview(result srs.Result, review srs.Review, nowTs int64) {
	i.Interval = result.Interval
	i.EaseFactor = result.EaseFactor
	i.Repetitions = result.Repetitions
	i.NextReviewTs = result.NextReviewTs
	i.Status = result.Status
	i.LastReviewedTs = &nowTs

	if review.ResponseTimeMs > 0 {
		total := i.AvgResponseMs*int64(i.ReviewCount) + review.ResponseTimeMs
		i.AvgResponseMs = total / int64(i.ReviewCount+1)
	}
	i.ReviewCount++
	if review.Correct {
		i.CorrectCount++
		i.CurrentStreak++
		if i.CurrentStreak > i.BestStreak {
			i.BestStreak = i.CurrentStreak
		}
	} else {
		i.IncorrectCount++
		i.CurrentStreak = 0
	}
}

// QueueEntry projects the item onto the due-queue ordering input.
func (i *ReviewItem) QueueEntry() srs.QueueEntry {
	return srs.QueueEntry{
		ID:           i.ID,
		Repetitions:  i.Repetitions,
		EaseFactor:   i.EaseFactor,
		NextReviewTs: i.NextReviewTs,
	}
}

// FindReviewItem is the find condition for review items.
type FindReviewItem struct {
	ID          *string
	IDs         []string
	UserID      *string
	ContentType *lexeme.ContentType
	ContentID   *string
	Status      *srs.Status
	RowStatus   *RowStatus
	Priority    *Priority

	// SetID matches items that belong to the set.
	SetID *string
	// Tag matches items carrying the tag.
	Tag *string
	// DueBeforeTs matches items whose next review is at or before the instant.
	DueBeforeTs *int64
	// PinnedOnly restricts to pinned items.
	PinnedOnly bool

	// Filter is a CEL expression translated to SQL (store/filter).
	Filter *string

	// Pagination.
	Limit  *int
	Cursor *string
}

// UpdateReviewItem is the update request for a review item. Nil fields are
// left unchanged. When ExpectedVersion is set the update is conditional and
// fails with a conflict if another writer got there first.
type UpdateReviewItem struct {
	ID              string
	UserID          string
	ExpectedVersion *int64

	PrimaryText   *string
	SecondaryText *string
	TertiaryText  *string
	AudioURL      *string
	ImageURL      *string

	Status         *srs.Status
	Interval       *int
	EaseFactor     *float64
	Repetitions    *int
	LastReviewedTs *int64
	NextReviewTs   *int64

	ReviewCount    *int
	CorrectCount   *int
	IncorrectCount *int
	CurrentStreak  *int
	BestStreak     *int
	AvgResponseMs  *int64

	Tags          *[]string
	SetIDs        *[]string
	Priority      *Priority
	PinnedTs      *int64
	ClearPinnedTs bool

	RowStatus *RowStatus
	UpdatedTs *int64
}

// DeleteReviewItem is the delete request for a review item. Hard delete;
// day-to-day deactivation goes through RowStatus instead.
type DeleteReviewItem struct {
	ID     string
	UserID string
}

// CreateReviewItem creates a review item, filling identity and scheduling
// defaults for fields the caller left zero.
func (s *Store) CreateReviewItem(ctx context.Context, create *ReviewItem) (*ReviewItem, error) {
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.Status == "" {
		create.Status = srs.StatusNew
	}
	if create.EaseFactor == 0 {
		create.EaseFactor = srs.DefaultEaseFactor
	}
	if create.Priority == "" {
		create.Priority = PriorityNormal
	}
	if create.RowStatus == "" {
		create.RowStatus = Normal
	}
	if create.Version == 0 {
		create.Version = 1
	}
	now := time.Now().UnixMilli()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = now
	}
	if create.NextReviewTs == 0 {
		create.NextReviewTs = now
	}
	if err := validateReviewItem(create); err != nil {
		return nil, err
	}
	return do(ctx, s, "review_item.create", func(ctx context.Context) (*ReviewItem, error) {
		return s.driver.CreateReviewItem(ctx, create)
	})
}

// ListReviewItems lists review items matching the find condition.
func (s *Store) ListReviewItems(ctx context.Context, find *FindReviewItem) ([]*ReviewItem, error) {
	return do(ctx, s, "review_item.list", func(ctx context.Context) ([]*ReviewItem, error) {
		return s.driver.ListReviewItems(ctx, find)
	})
}

// GetReviewItem returns one review item or a not-found error.
func (s *Store) GetReviewItem(ctx context.Context, find *FindReviewItem) (*ReviewItem, error) {
	list, err := s.ListReviewItems(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errs.NotFound("review item not found")
	}
	return list[0], nil
}

// UpdateReviewItem applies a partial update and returns the stored row.
func (s *Store) UpdateReviewItem(ctx context.Context, update *UpdateReviewItem) (*ReviewItem, error) {
	if update.ID == "" || update.UserID == "" {
		return nil, errs.ValidationFailed("review item update requires id and userId")
	}
	if update.UpdatedTs == nil {
		now := time.Now().UnixMilli()
		update.UpdatedTs = &now
	}
	return do(ctx, s, "review_item.update", func(ctx context.Context) (*ReviewItem, error) {
		return s.driver.UpdateReviewItem(ctx, update)
	})
}

// DeleteReviewItem hard-deletes a review item.
func (s *Store) DeleteReviewItem(ctx context.Context, delete *DeleteReviewItem) error {
	return run(ctx, s, "review_item.delete", func(ctx context.Context) error {
		return s.driver.DeleteReviewItem(ctx, delete)
	})
}

// ListDueReviewItems returns the user's active items due at or before now,
// ordered for presentation: never-reviewed first, then weakest ease factor,
// then most overdue.
func (s *Store) ListDueReviewItems(ctx context.Context, userID string, nowTs int64, limit int) ([]*ReviewItem, error) {
	rowStatus := Normal
	items, err := s.ListReviewItems(ctx, &FindReviewItem{
		UserID:      &userID,
		RowStatus:   &rowStatus,
		DueBeforeTs: &nowTs,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]srs.QueueEntry, 0, len(items))
	byID := make(map[string]*ReviewItem, len(items))
	for _, item := range items {
		entries = append(entries, item.QueueEntry())
		byID[item.ID] = item
	}
	ordered := srs.NextDue(entries, time.UnixMilli(nowTs), limit)

	out := make([]*ReviewItem, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, byID[e.ID])
	}
	return out, nil
}
