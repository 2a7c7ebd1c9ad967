// Package sync mirrors device-owned study lists and saved items to the
// hosted store and reconciles remote changes back into local storage.
//
// Writes are local-first: the Manager persists to the device store before
// anything touches the network, and a failed cloud write degrades the record
// to local-only with a queued retry instead of failing the caller. Merging is
// last-writer-wins on (version, updatedAt); there is no three-way merge and
// conflicts are never surfaced to the user.
package sync

import (
	"context"

	"github.com/moshimoshi/fukushu/store"
)

// Hosted is the slice of the hosted store the cloud adapter drives.
// *store.Store satisfies it.
type Hosted interface {
	UpsertStudyList(ctx context.Context, upsert *store.StudyList) (*store.StudyList, error)
	UpsertStudyLists(ctx context.Context, upserts []*store.StudyList) ([]*store.StudyList, error)
	ListStudyLists(ctx context.Context, find *store.FindStudyList) ([]*store.StudyList, error)
	DeleteStudyList(ctx context.Context, delete *store.DeleteStudyList) error

	UpsertSavedItem(ctx context.Context, upsert *store.SavedItem) (*store.SavedItem, error)
	UpsertSavedItems(ctx context.Context, upserts []*store.SavedItem) ([]*store.SavedItem, error)
	ListSavedItems(ctx context.Context, find *store.FindSavedItem) ([]*store.SavedItem, error)
	DeleteSavedItem(ctx context.Context, delete *store.DeleteSavedItem) error
}

// Listener observes replicated changes as they are applied. The adapter
// notifies its listener when queued entities finally flush; the manager
// notifies application code about every change it applies, local or remote.
// Calls happen inline on the mutating goroutine, so implementations must not
// block. A nil listener is allowed everywhere one is accepted.
type Listener interface {
	OnStudyListUpserted(list *store.StudyList)
	OnStudyListDeleted(userID, id string)
	OnSavedItemUpserted(item *store.SavedItem)
	OnSavedItemDeleted(userID, id string)
}

// RemoteChange is one row change reported by the hosted store's change feed.
// The payload shape is fixed by the notify_fukushu_change trigger function.
type RemoteChange struct {
	Table  string `json:"table"`
	Op     string `json:"op"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// Snapshot is the full remote state of one account, as returned by FetchAll.
type Snapshot struct {
	Lists []*store.StudyList
	Items []*store.SavedItem
}
