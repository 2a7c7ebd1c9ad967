package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
)

// SavedItem is a device-owned bookmark of one piece of content (a word, a
// sentence) the user filed into study lists. Like StudyList it syncs through
// last-writer-wins upserts.
type SavedItem struct {
	ID          string             `json:"id" validate:"required"`
	UserID      string             `json:"userId" validate:"required"`
	ContentType lexeme.ContentType `json:"contentType" validate:"required,oneof=kana kanji vocabulary sentence phrase grammar custom"`
	ContentID   string             `json:"contentId"`

	Text    string   `json:"text" validate:"required"`
	Reading string   `json:"reading"`
	Meaning string   `json:"meaning"`
	Tags    []string `json:"tags"`

	// ListIDs is the reverse side of StudyList.ItemIDs.
	ListIDs []string `json:"listIds"`

	SyncStatus SyncStatus `json:"syncStatus" validate:"required,oneof=LOCAL_ONLY PENDING_SYNC SYNCED"`

	RowStatus RowStatus `json:"rowStatus" validate:"required,oneof=NORMAL ARCHIVED"`
	Version   int64     `json:"version" validate:"gte=1"`
	CreatedTs int64     `json:"createdAt"`
	UpdatedTs int64     `json:"updatedAt"`
}

// NewSavedItem builds a local saved item with identity and lifecycle defaults.
func NewSavedItem(userID string, contentType lexeme.ContentType, text string) *SavedItem {
	now := time.Now().UnixMilli()
	return &SavedItem{
		ID:          shortuuid.New(),
		UserID:      userID,
		ContentType: contentType,
		Text:        text,
		Tags:        []string{},
		ListIDs:     []string{},
		SyncStatus:  SyncStatusLocalOnly,
		RowStatus:   Normal,
		Version:     1,
		CreatedTs:   now,
		UpdatedTs:   now,
	}
}

// Touch bumps the version and modification time ahead of a mutation.
func (i *SavedItem) Touch(nowTs int64) {
	i.Version++
	i.UpdatedTs = nowTs
}

// LexemeEntry projects the saved item onto the classifier's input.
func (i *SavedItem) LexemeEntry() lexeme.Entry {
	return lexeme.Entry{
		ContentType: i.ContentType,
		Text:        i.Text,
		Reading:     i.Reading,
		Tags:        i.Tags,
	}
}

// FindSavedItem is the find condition for saved items.
type FindSavedItem struct {
	ID          *string
	UserID      *string
	ContentType *lexeme.ContentType
	ContentID   *string
	RowStatus   *RowStatus

	// ListID matches items filed into the list.
	ListID *string
	// UpdatedAfterTs matches items modified strictly after the instant.
	UpdatedAfterTs *int64

	Limit *int
}

// DeleteSavedItem is the delete request for a saved item.
type DeleteSavedItem struct {
	ID     string
	UserID string
}

// UpsertSavedItem writes a saved item with last-writer-wins semantics,
// mirroring UpsertStudyList.
func (s *Store) UpsertSavedItem(ctx context.Context, upsert *SavedItem) (*SavedItem, error) {
	if err := validateSavedItem(upsert); err != nil {
		return nil, err
	}
	return do(ctx, s, "saved_item.upsert", func(ctx context.Context) (*SavedItem, error) {
		return s.driver.UpsertSavedItem(ctx, upsert)
	})
}

// UpsertSavedItems applies a sync batch of last-writer-wins writes in one
// driver transaction.
func (s *Store) UpsertSavedItems(ctx context.Context, upserts []*SavedItem) ([]*SavedItem, error) {
	for _, upsert := range upserts {
		if err := validateSavedItem(upsert); err != nil {
			return nil, err
		}
	}
	return do(ctx, s, "saved_item.upsert_batch", func(ctx context.Context) ([]*SavedItem, error) {
		return s.driver.UpsertSavedItems(ctx, upserts)
	})
}

// ListSavedItems lists saved items matching the find condition.
func (s *Store) ListSavedItems(ctx context.Context, find *FindSavedItem) ([]*SavedItem, error) {
	return do(ctx, s, "saved_item.list", func(ctx context.Context) ([]*SavedItem, error) {
		return s.driver.ListSavedItems(ctx, find)
	})
}

// GetSavedItem returns one saved item or a not-found error.
func (s *Store) GetSavedItem(ctx context.Context, find *FindSavedItem) (*SavedItem, error) {
	list, err := s.ListSavedItems(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errs.NotFound("saved item not found")
	}
	return list[0], nil
}

// DeleteSavedItem hard-deletes a saved item.
func (s *Store) DeleteSavedItem(ctx context.Context, delete *DeleteSavedItem) error {
	return run(ctx, s, "saved_item.delete", func(ctx context.Context) error {
		return s.driver.DeleteSavedItem(ctx, delete)
	})
}
