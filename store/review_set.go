package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
)

// SetProgress is the denormalized per-status item count of a set.
type SetProgress struct {
	New      int `json:"new"`
	Learning int `json:"learning"`
	Mastered int `json:"mastered"`
}

// ReviewSet is a named collection of review item references with
// denormalized counts kept in step with its members.
type ReviewSet struct {
	ID          string `json:"id" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description"`

	ItemIDs      []string             `json:"itemIds"`
	ItemCount    int                  `json:"itemCount" validate:"gte=0"`
	ContentTypes []lexeme.ContentType `json:"contentTypes"`
	Progress     SetProgress          `json:"progress"`

	// Sharing.
	IsPublic      bool     `json:"isPublic"`
	SharedWith    []string `json:"sharedWith"`
	OriginalSetID *string  `json:"originalSetId,omitempty"`

	// Lifecycle.
	RowStatus RowStatus `json:"rowStatus" validate:"required,oneof=NORMAL ARCHIVED"`
	Version   int64     `json:"version" validate:"gte=1"`
	CreatedTs int64     `json:"createdAt"`
	UpdatedTs int64     `json:"updatedAt"`
}

// FindReviewSet is the find condition for review sets.
type FindReviewSet struct {
	ID     *string
	UserID *string
	// SharedWithUserID matches sets shared with the user.
	SharedWithUserID *string
	IsPublic         *bool
	RowStatus        *RowStatus

	Limit  *int
	Cursor *string
}

// UpdateReviewSet is the update request for a review set. Membership is not
// updated here; AddReviewSetItems / RemoveReviewSetItems keep the
// denormalized counts consistent.
type UpdateReviewSet struct {
	ID              string
	UserID          string
	ExpectedVersion *int64

	Name          *string
	Description   *string
	IsPublic      *bool
	SharedWith    *[]string
	OriginalSetID *string

	RowStatus *RowStatus
	UpdatedTs *int64
}

// AddReviewSetItems adds items to a set: both the set's itemIds and each
// item's setIds are written in one transaction.
type AddReviewSetItems struct {
	SetID   string
	UserID  string
	ItemIDs []string

	UpdatedTs *int64
}

// RemoveReviewSetItems removes items from a set, the mirror of AddReviewSetItems.
type RemoveReviewSetItems struct {
	SetID   string
	UserID  string
	ItemIDs []string

	UpdatedTs *int64
}

// DeleteReviewSet deletes the set and strips its ID from all referencing
// items' setIds in the same transaction.
type DeleteReviewSet struct {
	ID     string
	UserID string
}

// CreateReviewSet creates a review set.
func (s *Store) CreateReviewSet(ctx context.Context, create *ReviewSet) (*ReviewSet, error) {
	if create.ID == "" {
		create.ID = shortuuid.New()
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
	create.ItemCount = len(create.ItemIDs)
	if err := validateReviewSet(create); err != nil {
		return nil, err
	}
	return do(ctx, s, "review_set.create", func(ctx context.Context) (*ReviewSet, error) {
		return s.driver.CreateReviewSet(ctx, create)
	})
}

// ListReviewSets lists review sets matching the find condition.
func (s *Store) ListReviewSets(ctx context.Context, find *FindReviewSet) ([]*ReviewSet, error) {
	return do(ctx, s, "review_set.list", func(ctx context.Context) ([]*ReviewSet, error) {
		return s.driver.ListReviewSets(ctx, find)
	})
}

// GetReviewSet returns one review set or a not-found error.
func (s *Store) GetReviewSet(ctx context.Context, find *FindReviewSet) (*ReviewSet, error) {
	list, err := s.ListReviewSets(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errs.NotFound("review set not found")
	}
	return list[0], nil
}

// UpdateReviewSet applies a partial update and returns the stored row.
func (s *Store) UpdateReviewSet(ctx context.Context, update *UpdateReviewSet) (*ReviewSet, error) {
	if update.ID == "" || update.UserID == "" {
		return nil, errs.ValidationFailed("review set update requires id and userId")
	}
	if update.UpdatedTs == nil {
		now := time.Now().UnixMilli()
		update.UpdatedTs = &now
	}
	return do(ctx, s, "review_set.update", func(ctx context.Context) (*ReviewSet, error) {
		return s.driver.UpdateReviewSet(ctx, update)
	})
}

// AddReviewSetItems adds items to a set along with the reverse references.
func (s *Store) AddReviewSetItems(ctx context.Context, add *AddReviewSetItems) (*ReviewSet, error) {
	if add.SetID == "" || add.UserID == "" || len(add.ItemIDs) == 0 {
		return nil, errs.ValidationFailed("adding set items requires setId, userId and itemIds")
	}
	if add.UpdatedTs == nil {
		now := time.Now().UnixMilli()
		add.UpdatedTs = &now
	}
	return do(ctx, s, "review_set.add_items", func(ctx context.Context) (*ReviewSet, error) {
		return s.driver.AddReviewSetItems(ctx, add)
	})
}

// RemoveReviewSetItems removes items from a set along with the reverse references.
func (s *Store) RemoveReviewSetItems(ctx context.Context, remove *RemoveReviewSetItems) (*ReviewSet, error) {
	if remove.SetID == "" || remove.UserID == "" || len(remove.ItemIDs) == 0 {
		return nil, errs.ValidationFailed("removing set items requires setId, userId and itemIds")
	}
	if remove.UpdatedTs == nil {
		now := time.Now().UnixMilli()
		remove.UpdatedTs = &now
	}
	return do(ctx, s, "review_set.remove_items", func(ctx context.Context) (*ReviewSet, error) {
		return s.driver.RemoveReviewSetItems(ctx, remove)
	})
}

// SyncReviewSetProgress recomputes a set's denormalized progress counts and
// content types from its current members.
func (s *Store) SyncReviewSetProgress(ctx context.Context, setID, userID string) (*ReviewSet, error) {
	if setID == "" || userID == "" {
		return nil, errs.ValidationFailed("syncing set progress requires setId and userId")
	}
	return do(ctx, s, "review_set.sync_progress", func(ctx context.Context) (*ReviewSet, error) {
		return s.driver.SyncReviewSetProgress(ctx, setID, userID)
	})
}

// DeleteReviewSet deletes the set and cleans up referencing items.
func (s *Store) DeleteReviewSet(ctx context.Context, delete *DeleteReviewSet) error {
	return run(ctx, s, "review_set.delete", func(ctx context.Context) error {
		return s.driver.DeleteReviewSet(ctx, delete)
	})
}
