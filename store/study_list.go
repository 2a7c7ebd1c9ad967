package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
)

// StudyList is a device-owned, named collection of saved items. Lists are
// written locally first and mirrored to the hosted store for premium
// accounts, so hosted writes go through a last-writer-wins upsert instead of
// plain create/update.
type StudyList struct {
	ID     string          `json:"id" validate:"required"`
	UserID string          `json:"userId" validate:"required"`
	Name   string          `json:"name" validate:"required,max=256"`
	Kind   lexeme.ListKind `json:"kind" validate:"required,oneof=flashcard sentence drill"`

	ItemIDs   []string `json:"itemIds"`
	ItemCount int      `json:"itemCount" validate:"gte=0"`

	SyncStatus SyncStatus `json:"syncStatus" validate:"required,oneof=LOCAL_ONLY PENDING_SYNC SYNCED"`

	RowStatus RowStatus `json:"rowStatus" validate:"required,oneof=NORMAL ARCHIVED"`
	Version   int64     `json:"version" validate:"gte=1"`
	CreatedTs int64     `json:"createdAt"`
	UpdatedTs int64     `json:"updatedAt"`
}

// NewStudyList builds a local list with identity and lifecycle defaults.
func NewStudyList(userID, name string, kind lexeme.ListKind) *StudyList {
	now := time.Now().UnixMilli()
	return &StudyList{
		ID:         shortuuid.New(),
		UserID:     userID,
		Name:       name,
		Kind:       kind,
		ItemIDs:    []string{},
		SyncStatus: SyncStatusLocalOnly,
		RowStatus:  Normal,
		Version:    1,
		CreatedTs:  now,
		UpdatedTs:  now,
	}
}

// Touch bumps the version and modification time ahead of a mutation.
func (l *StudyList) Touch(nowTs int64) {
	l.Version++
	l.UpdatedTs = nowTs
	l.ItemCount = len(l.ItemIDs)
}

// FindStudyList is the find condition for study lists.
type FindStudyList struct {
	ID        *string
	UserID    *string
	Kind      *lexeme.ListKind
	RowStatus *RowStatus

	// UpdatedAfterTs matches lists modified strictly after the instant,
	// used for delta fetches.
	UpdatedAfterTs *int64

	Limit *int
}

// DeleteStudyList is the delete request for a study list.
type DeleteStudyList struct {
	ID     string
	UserID string
}

// UpsertStudyList writes a list with last-writer-wins semantics: the write
// applies only if its (version, updatedAt) is not older than the stored
// row's. The returned row is whichever side won.
func (s *Store) UpsertStudyList(ctx context.Context, upsert *StudyList) (*StudyList, error) {
	upsert.ItemCount = len(upsert.ItemIDs)
	if err := validateStudyList(upsert); err != nil {
		return nil, err
	}
	list, err := do(ctx, s, "study_list.upsert", func(ctx context.Context) (*StudyList, error) {
		return s.driver.UpsertStudyList(ctx, upsert)
	})
	if err == nil {
		s.listCache.Delete(ctx, upsert.UserID)
	}
	return list, err
}

// UpsertStudyLists applies a sync batch of last-writer-wins writes in one
// driver transaction.
func (s *Store) UpsertStudyLists(ctx context.Context, upserts []*StudyList) ([]*StudyList, error) {
	for _, upsert := range upserts {
		upsert.ItemCount = len(upsert.ItemIDs)
		if err := validateStudyList(upsert); err != nil {
			return nil, err
		}
	}
	lists, err := do(ctx, s, "study_list.upsert_batch", func(ctx context.Context) ([]*StudyList, error) {
		return s.driver.UpsertStudyLists(ctx, upserts)
	})
	if err == nil {
		for _, upsert := range upserts {
			s.listCache.Delete(ctx, upsert.UserID)
		}
	}
	return lists, err
}

// ListStudyLists lists study lists matching the find condition. Whole-user
// listings are served from a short-lived cache.
func (s *Store) ListStudyLists(ctx context.Context, find *FindStudyList) ([]*StudyList, error) {
	cacheable := find.UserID != nil && find.ID == nil && find.Kind == nil &&
		find.RowStatus == nil && find.UpdatedAfterTs == nil && find.Limit == nil
	if cacheable {
		if cached, ok := s.listCache.Get(ctx, *find.UserID); ok {
			if lists, ok := cached.([]*StudyList); ok {
				return lists, nil
			}
		}
	}
	lists, err := do(ctx, s, "study_list.list", func(ctx context.Context) ([]*StudyList, error) {
		return s.driver.ListStudyLists(ctx, find)
	})
	if err == nil && cacheable {
		s.listCache.Set(ctx, *find.UserID, lists)
	}
	return lists, err
}

// GetStudyList returns one study list or a not-found error.
func (s *Store) GetStudyList(ctx context.Context, find *FindStudyList) (*StudyList, error) {
	list, err := s.ListStudyLists(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errs.NotFound("study list not found")
	}
	return list[0], nil
}

// DeleteStudyList hard-deletes a study list.
func (s *Store) DeleteStudyList(ctx context.Context, delete *DeleteStudyList) error {
	err := run(ctx, s, "study_list.delete", func(ctx context.Context) error {
		return s.driver.DeleteStudyList(ctx, delete)
	})
	if err == nil {
		s.listCache.Delete(ctx, delete.UserID)
	}
	return err
}
