package sync

import (
	"context"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/store"
)

// hostedMock is an in-memory stand-in for the hosted store with the same
// last-writer-wins upsert semantics as the postgres driver.
type hostedMock struct {
	mu      gosync.Mutex
	lists   map[string]*store.StudyList
	items   map[string]*store.SavedItem
	calls   int
	batches []int
	down    bool
}

func newHostedMock() *hostedMock {
	return &hostedMock{
		lists: map[string]*store.StudyList{},
		items: map[string]*store.SavedItem{},
	}
}

func (h *hostedMock) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *hostedMock) setDown(down bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.down = down
}

func (h *hostedMock) begin() error {
	h.calls++
	if h.down {
		return errs.Unavailable(nil, "hosted store down")
	}
	return nil
}

func cloneList(list *store.StudyList) *store.StudyList {
	clone := *list
	clone.ItemIDs = append([]string(nil), list.ItemIDs...)
	return &clone
}

func cloneItem(item *store.SavedItem) *store.SavedItem {
	clone := *item
	clone.Tags = append([]string(nil), item.Tags...)
	clone.ListIDs = append([]string(nil), item.ListIDs...)
	return &clone
}

func (h *hostedMock) upsertListLocked(upsert *store.StudyList) *store.StudyList {
	if stored, ok := h.lists[upsert.ID]; ok &&
		newerRevision(stored.Version, stored.UpdatedTs, upsert.Version, upsert.UpdatedTs) {
		return cloneList(stored)
	}
	h.lists[upsert.ID] = cloneList(upsert)
	return cloneList(upsert)
}

func (h *hostedMock) upsertItemLocked(upsert *store.SavedItem) *store.SavedItem {
	if stored, ok := h.items[upsert.ID]; ok &&
		newerRevision(stored.Version, stored.UpdatedTs, upsert.Version, upsert.UpdatedTs) {
		return cloneItem(stored)
	}
	h.items[upsert.ID] = cloneItem(upsert)
	return cloneItem(upsert)
}

func (h *hostedMock) UpsertStudyList(_ context.Context, upsert *store.StudyList) (*store.StudyList, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return nil, err
	}
	return h.upsertListLocked(upsert), nil
}

func (h *hostedMock) UpsertStudyLists(_ context.Context, upserts []*store.StudyList) ([]*store.StudyList, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return nil, err
	}
	h.batches = append(h.batches, len(upserts))
	winners := make([]*store.StudyList, 0, len(upserts))
	for _, upsert := range upserts {
		winners = append(winners, h.upsertListLocked(upsert))
	}
	return winners, nil
}

func (h *hostedMock) ListStudyLists(_ context.Context, find *store.FindStudyList) ([]*store.StudyList, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return nil, err
	}
	lists := []*store.StudyList{}
	for _, list := range h.lists {
		if find.ID != nil && list.ID != *find.ID {
			continue
		}
		if find.UserID != nil && list.UserID != *find.UserID {
			continue
		}
		lists = append(lists, cloneList(list))
	}
	return lists, nil
}

func (h *hostedMock) DeleteStudyList(_ context.Context, del *store.DeleteStudyList) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return err
	}
	if stored, ok := h.lists[del.ID]; ok && stored.UserID == del.UserID {
		delete(h.lists, del.ID)
	}
	return nil
}

func (h *hostedMock) UpsertSavedItem(_ context.Context, upsert *store.SavedItem) (*store.SavedItem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return nil, err
	}
	return h.upsertItemLocked(upsert), nil
}

func (h *hostedMock) UpsertSavedItems(_ context.Context, upserts []*store.SavedItem) ([]*store.SavedItem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return nil, err
	}
	h.batches = append(h.batches, len(upserts))
	winners := make([]*store.SavedItem, 0, len(upserts))
	for _, upsert := range upserts {
		winners = append(winners, h.upsertItemLocked(upsert))
	}
	return winners, nil
}

func (h *hostedMock) ListSavedItems(_ context.Context, find *store.FindSavedItem) ([]*store.SavedItem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return nil, err
	}
	items := []*store.SavedItem{}
	for _, item := range h.items {
		if find.ID != nil && item.ID != *find.ID {
			continue
		}
		if find.UserID != nil && item.UserID != *find.UserID {
			continue
		}
		items = append(items, cloneItem(item))
	}
	return items, nil
}

func (h *hostedMock) DeleteSavedItem(_ context.Context, del *store.DeleteSavedItem) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(); err != nil {
		return err
	}
	if stored, ok := h.items[del.ID]; ok && stored.UserID == del.UserID {
		delete(h.items, del.ID)
	}
	return nil
}

// recordingListener captures notifications for assertions.
type recordingListener struct {
	mu          gosync.Mutex
	listUpserts []*store.StudyList
	itemUpserts []*store.SavedItem
	listDeletes []string
	itemDeletes []string
}

func (r *recordingListener) OnStudyListUpserted(list *store.StudyList) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listUpserts = append(r.listUpserts, list)
}

func (r *recordingListener) OnStudyListDeleted(_, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listDeletes = append(r.listDeletes, id)
}

func (r *recordingListener) OnSavedItemUpserted(item *store.SavedItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemUpserts = append(r.itemUpserts, item)
}

func (r *recordingListener) OnSavedItemDeleted(_, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemDeletes = append(r.itemDeletes, id)
}

func newTestCloud(hosted Hosted, batchSize int) *Cloud {
	return NewCloud(hosted, Options{BatchSize: batchSize, RatePerSec: 10000})
}

func TestCloudGating(t *testing.T) {
	ctx := context.Background()

	t.Run("FreeTier", func(t *testing.T) {
		hosted := newHostedMock()
		cloud := newTestCloud(hosted, 10)
		cloud.Initialize("alice", false)

		winner, err := cloud.SyncList(ctx, store.NewStudyList("alice", "Verbs", lexeme.ListKindFlashcard))
		require.NoError(t, err)
		require.Nil(t, winner)

		winners, err := cloud.SyncItems(ctx, []*store.SavedItem{
			store.NewSavedItem("alice", lexeme.ContentTypeVocabulary, "走る"),
		})
		require.NoError(t, err)
		require.Nil(t, winners)

		require.NoError(t, cloud.DeleteList(ctx, "alice", "list-1"))

		snapshot, err := cloud.FetchAll(ctx)
		require.NoError(t, err)
		require.Empty(t, snapshot.Lists)
		require.Empty(t, snapshot.Items)

		require.Zero(t, hosted.callCount(), "free tier must never reach the network")
	})

	t.Run("Guest", func(t *testing.T) {
		hosted := newHostedMock()
		cloud := newTestCloud(hosted, 10)
		cloud.Initialize("", true)

		winner, err := cloud.SyncList(ctx, store.NewStudyList("", "Scratch", lexeme.ListKindFlashcard))
		require.NoError(t, err)
		require.Nil(t, winner)
		require.Zero(t, hosted.callCount())
	})

	t.Run("ForeignRecordsSkipped", func(t *testing.T) {
		hosted := newHostedMock()
		cloud := newTestCloud(hosted, 10)
		cloud.Initialize("alice", true)

		winner, err := cloud.SyncList(ctx, store.NewStudyList("mallory", "Not yours", lexeme.ListKindFlashcard))
		require.NoError(t, err)
		require.Nil(t, winner)
		require.Zero(t, hosted.callCount())
	})
}

func TestCloudSyncListReturnsWinner(t *testing.T) {
	ctx := context.Background()
	hosted := newHostedMock()
	cloud := newTestCloud(hosted, 10)
	cloud.Initialize("alice", true)

	stored := store.NewStudyList("alice", "Hosted copy", lexeme.ListKindFlashcard)
	stored.ID = "list-1"
	stored.Version = 7
	_, err := hosted.UpsertStudyList(ctx, stored)
	require.NoError(t, err)

	stale := store.NewStudyList("alice", "Device copy", lexeme.ListKindFlashcard)
	stale.ID = "list-1"
	stale.Version = 3

	winner, err := cloud.SyncList(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, int64(7), winner.Version)
	require.Equal(t, "Hosted copy", winner.Name)
}

func TestCloudBatchSplitting(t *testing.T) {
	ctx := context.Background()
	hosted := newHostedMock()
	cloud := newTestCloud(hosted, 2)
	cloud.Initialize("alice", true)

	items := make([]*store.SavedItem, 5)
	for i := range items {
		items[i] = store.NewSavedItem("alice", lexeme.ContentTypeVocabulary, "走る")
	}
	winners, err := cloud.SyncItems(ctx, items)
	require.NoError(t, err)
	require.Len(t, winners, 5)
	require.Equal(t, []int{2, 2, 1}, hosted.batches)
}

func TestCloudQueueAndFlush(t *testing.T) {
	ctx := context.Background()
	hosted := newHostedMock()
	cloud := newTestCloud(hosted, 10)
	cloud.Initialize("alice", true)
	listener := &recordingListener{}
	cloud.Subscribe(listener)

	hosted.setDown(true)
	item := store.NewSavedItem("alice", lexeme.ContentTypeVocabulary, "走る")
	winner, err := cloud.SyncItem(ctx, item)
	require.True(t, errs.IsUnavailable(err))
	require.Nil(t, winner)
	require.Equal(t, 1, cloud.Pending())

	// Nothing moves while the store is still down; the entity is re-queued.
	cloud.FlushRetries(ctx)
	require.Equal(t, 1, cloud.Pending())

	hosted.setDown(false)
	cloud.FlushRetries(ctx)
	require.Zero(t, cloud.Pending())
	require.Len(t, listener.itemUpserts, 1)
	require.Equal(t, item.ID, listener.itemUpserts[0].ID)

	got, err := hosted.ListSavedItems(ctx, &store.FindSavedItem{ID: &item.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCloudDeleteSupersedesQueuedUpsert(t *testing.T) {
	ctx := context.Background()
	hosted := newHostedMock()
	cloud := newTestCloud(hosted, 10)
	cloud.Initialize("alice", true)

	hosted.setDown(true)
	list := store.NewStudyList("alice", "Doomed", lexeme.ListKindFlashcard)
	_, err := cloud.SyncList(ctx, list)
	require.Error(t, err)
	require.Equal(t, 1, cloud.Pending())

	require.Error(t, cloud.DeleteList(ctx, "alice", list.ID))
	require.Equal(t, 1, cloud.Pending(), "delete replaces the queued upsert")

	hosted.setDown(false)
	cloud.FlushRetries(ctx)
	require.Zero(t, cloud.Pending())

	got, err := hosted.ListStudyLists(ctx, &store.FindStudyList{ID: &list.ID})
	require.NoError(t, err)
	require.Empty(t, got, "the flushed delete wins; the upsert never lands")
}

func TestCloudValidationFailuresAreNotQueued(t *testing.T) {
	ctx := context.Background()
	failing := &validationFailingHosted{}
	cloud := newTestCloud(failing, 10)
	cloud.Initialize("alice", true)

	_, err := cloud.SyncList(ctx, store.NewStudyList("alice", "Bad", lexeme.ListKindFlashcard))
	require.True(t, errs.IsValidationFailed(err))
	require.Zero(t, cloud.Pending())
}

// validationFailingHosted rejects every write as invalid.
type validationFailingHosted struct{ hostedMock }

func (h *validationFailingHosted) UpsertStudyList(context.Context, *store.StudyList) (*store.StudyList, error) {
	return nil, errs.ValidationFailed("bad payload")
}

func TestCloudChangesDisabled(t *testing.T) {
	cloud := newTestCloud(newHostedMock(), 10)
	cloud.Initialize("alice", false)

	changes, err := cloud.Changes(context.Background())
	require.NoError(t, err)
	_, open := <-changes
	require.False(t, open, "disabled feed returns a closed channel")
}
