package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// ReviewItem model related methods.
	CreateReviewItem(ctx context.Context, create *ReviewItem) (*ReviewItem, error)
	ListReviewItems(ctx context.Context, find *FindReviewItem) ([]*ReviewItem, error)
	UpdateReviewItem(ctx context.Context, update *UpdateReviewItem) (*ReviewItem, error)
	DeleteReviewItem(ctx context.Context, delete *DeleteReviewItem) error

	// ReviewSet model related methods. Membership writes update both sides
	// of the item<->set relationship in one transaction.
	CreateReviewSet(ctx context.Context, create *ReviewSet) (*ReviewSet, error)
	ListReviewSets(ctx context.Context, find *FindReviewSet) ([]*ReviewSet, error)
	UpdateReviewSet(ctx context.Context, update *UpdateReviewSet) (*ReviewSet, error)
	AddReviewSetItems(ctx context.Context, add *AddReviewSetItems) (*ReviewSet, error)
	RemoveReviewSetItems(ctx context.Context, remove *RemoveReviewSetItems) (*ReviewSet, error)
	SyncReviewSetProgress(ctx context.Context, setID, userID string) (*ReviewSet, error)
	DeleteReviewSet(ctx context.Context, delete *DeleteReviewSet) error

	// ReviewSession model related methods.
	CreateReviewSession(ctx context.Context, create *ReviewSession) (*ReviewSession, error)
	ListReviewSessions(ctx context.Context, find *FindReviewSession) ([]*ReviewSession, error)
	UpdateReviewSession(ctx context.Context, update *UpdateReviewSession) (*ReviewSession, error)
	DeleteReviewSession(ctx context.Context, delete *DeleteReviewSession) error

	// StudyList model related methods. Upserts are last-writer-wins; the
	// plural form applies a sync batch in one transaction.
	UpsertStudyList(ctx context.Context, upsert *StudyList) (*StudyList, error)
	UpsertStudyLists(ctx context.Context, upserts []*StudyList) ([]*StudyList, error)
	ListStudyLists(ctx context.Context, find *FindStudyList) ([]*StudyList, error)
	DeleteStudyList(ctx context.Context, delete *DeleteStudyList) error

	// SavedItem model related methods. Upserts are last-writer-wins; the
	// plural form applies a sync batch in one transaction.
	UpsertSavedItem(ctx context.Context, upsert *SavedItem) (*SavedItem, error)
	UpsertSavedItems(ctx context.Context, upserts []*SavedItem) ([]*SavedItem, error)
	ListSavedItems(ctx context.Context, find *FindSavedItem) ([]*SavedItem, error)
	DeleteSavedItem(ctx context.Context, delete *DeleteSavedItem) error

	// XPAward model related methods.
	CreateXPAward(ctx context.Context, create *XPAward) (*XPAward, bool, error)
	ListXPAwards(ctx context.Context, find *FindXPAward) ([]*XPAward, error)
	GetTotalXP(ctx context.Context, userID string) (int64, error)

	// SystemSetting model related methods.
	UpsertSystemSetting(ctx context.Context, upsert *SystemSetting) (*SystemSetting, error)
	ListSystemSettings(ctx context.Context, find *FindSystemSetting) ([]*SystemSetting, error)
}
