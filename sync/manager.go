package sync

import (
	"context"
	gosync "sync"
	"time"

	"log/slog"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/localstore"
	"github.com/moshimoshi/fukushu/store"
)

// Manager owns study lists and saved items for one account on one device.
// Mutations are local-first; when the account allows sync the manager mirrors
// them through the cloud adapter and tracks each record's replication state:
//
//	LOCAL_ONLY -> PENDING_SYNC   mutation while sync is enabled
//	PENDING_SYNC -> SYNCED       hosted store acknowledged the write
//	PENDING_SYNC -> LOCAL_ONLY   write failed and was queued for a flush
//
// A failed cloud write never fails the mutation: the record stays fully
// usable locally and converges later. Construct one Manager per device
// context and pass it where it is needed; there is no shared instance.
type Manager struct {
	local  *localstore.Store
	cloud  *Cloud
	userID string

	mu       gosync.RWMutex
	listener Listener
}

// NewManager wires the manager between the device store and the cloud
// adapter, and subscribes itself to the adapter's flush notifications so
// queued writes that land later still converge the local copies.
func NewManager(local *localstore.Store, cloud *Cloud, userID string) *Manager {
	m := &Manager{
		local:  local,
		cloud:  cloud,
		userID: userID,
	}
	cloud.Subscribe(m)
	return m
}

// Subscribe registers the application listener notified after every change
// the manager applies, local or remote.
func (m *Manager) Subscribe(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
}

func (m *Manager) appListener() Listener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener
}

func (m *Manager) notifyListUpserted(list *store.StudyList) {
	if l := m.appListener(); l != nil {
		l.OnStudyListUpserted(list)
	}
}

func (m *Manager) notifyListDeleted(userID, id string) {
	if l := m.appListener(); l != nil {
		l.OnStudyListDeleted(userID, id)
	}
}

func (m *Manager) notifyItemUpserted(item *store.SavedItem) {
	if l := m.appListener(); l != nil {
		l.OnSavedItemUpserted(item)
	}
}

func (m *Manager) notifyItemDeleted(userID, id string) {
	if l := m.appListener(); l != nil {
		l.OnSavedItemDeleted(userID, id)
	}
}

// CreateList makes a new study list.
func (m *Manager) CreateList(ctx context.Context, name string, kind lexeme.ListKind) (*store.StudyList, error) {
	if name == "" {
		return nil, errs.ValidationFailed("list name is required")
	}
	if !kind.Valid() {
		return nil, errs.ValidationFailed("unknown list kind %q", kind)
	}
	list := store.NewStudyList(m.userID, name, kind)
	if err := m.saveList(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// RenameList renames an existing study list.
func (m *Manager) RenameList(ctx context.Context, id, name string) (*store.StudyList, error) {
	if name == "" {
		return nil, errs.ValidationFailed("list name is required")
	}
	list, err := m.requireList(ctx, id)
	if err != nil {
		return nil, err
	}
	list.Name = name
	list.Touch(time.Now().UnixMilli())
	if err := m.saveList(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Lists returns the account's study lists, newest first.
func (m *Manager) Lists(ctx context.Context) ([]*store.StudyList, error) {
	return m.local.StudyLists(ctx, m.userID)
}

// List returns one study list or a not-found error.
func (m *Manager) List(ctx context.Context, id string) (*store.StudyList, error) {
	return m.requireList(ctx, id)
}

// Items returns the account's saved items, newest first.
func (m *Manager) Items(ctx context.Context) ([]*store.SavedItem, error) {
	return m.local.SavedItems(ctx, m.userID)
}

// Item returns one saved item or a not-found error.
func (m *Manager) Item(ctx context.Context, id string) (*store.SavedItem, error) {
	return m.requireItem(ctx, id)
}

// ItemsInList resolves a list's members. Dangling references are skipped.
func (m *Manager) ItemsInList(ctx context.Context, listID string) ([]*store.SavedItem, error) {
	list, err := m.requireList(ctx, listID)
	if err != nil {
		return nil, err
	}
	items := make([]*store.SavedItem, 0, len(list.ItemIDs))
	for _, itemID := range list.ItemIDs {
		item, err := m.local.SavedItem(ctx, m.userID, itemID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// SaveItem stores a new saved item and files it into the given lists in one
// call. The item's owner is forced to the manager's account. Content must be
// compatible with every target list's kind or nothing is written.
func (m *Manager) SaveItem(ctx context.Context, item *store.SavedItem, listIDs ...string) (*store.SavedItem, error) {
	item.UserID = m.userID
	lists, err := m.requireCompatibleLists(ctx, item, listIDs)
	if err != nil {
		return nil, err
	}
	for _, list := range lists {
		if !containsID(item.ListIDs, list.ID) {
			item.ListIDs = append(item.ListIDs, list.ID)
		}
	}
	if err := m.saveItem(ctx, item); err != nil {
		return nil, err
	}

	// The list side is written per list after the item: an interruption can
	// leave an asymmetric reference pair, which reconciliation tolerates.
	now := time.Now().UnixMilli()
	for _, list := range lists {
		if containsID(list.ItemIDs, item.ID) {
			continue
		}
		list.ItemIDs = append(list.ItemIDs, item.ID)
		list.Touch(now)
		if err := m.saveList(ctx, list); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// AddItemToLists files an existing item into more lists, updating both sides
// of each reference.
func (m *Manager) AddItemToLists(ctx context.Context, itemID string, listIDs ...string) (*store.SavedItem, error) {
	item, err := m.requireItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	lists, err := m.requireCompatibleLists(ctx, item, listIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	changed := false
	for _, list := range lists {
		if !containsID(item.ListIDs, list.ID) {
			item.ListIDs = append(item.ListIDs, list.ID)
			changed = true
		}
	}
	if changed {
		item.Touch(now)
		if err := m.saveItem(ctx, item); err != nil {
			return nil, err
		}
	}
	for _, list := range lists {
		if containsID(list.ItemIDs, item.ID) {
			continue
		}
		list.ItemIDs = append(list.ItemIDs, item.ID)
		list.Touch(now)
		if err := m.saveList(ctx, list); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// RemoveItemFromList unfiles an item from one list. Removing the last list
// reference deletes the item record entirely.
func (m *Manager) RemoveItemFromList(ctx context.Context, itemID, listID string) error {
	item, err := m.requireItem(ctx, itemID)
	if err != nil {
		return err
	}
	list, err := m.requireList(ctx, listID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if containsID(list.ItemIDs, item.ID) {
		list.ItemIDs = removeID(list.ItemIDs, item.ID)
		list.Touch(now)
		if err := m.saveList(ctx, list); err != nil {
			return err
		}
	}
	if !containsID(item.ListIDs, list.ID) {
		return nil
	}
	item.ListIDs = removeID(item.ListIDs, list.ID)
	if len(item.ListIDs) == 0 {
		return m.discardItem(ctx, item)
	}
	item.Touch(now)
	return m.saveItem(ctx, item)
}

// DeleteItem removes a saved item and strips it from every list that holds it.
func (m *Manager) DeleteItem(ctx context.Context, id string) error {
	item, err := m.requireItem(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, listID := range item.ListIDs {
		list, err := m.local.StudyList(ctx, m.userID, listID)
		if err != nil {
			return err
		}
		if list == nil || !containsID(list.ItemIDs, item.ID) {
			continue
		}
		list.ItemIDs = removeID(list.ItemIDs, item.ID)
		list.Touch(now)
		if err := m.saveList(ctx, list); err != nil {
			return err
		}
	}
	return m.discardItem(ctx, item)
}

// DeleteList removes a study list. Member items lose the reference; an item
// whose last list this was is deleted entirely, like RemoveItemFromList.
func (m *Manager) DeleteList(ctx context.Context, id string) error {
	list, err := m.requireList(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, itemID := range list.ItemIDs {
		item, err := m.local.SavedItem(ctx, m.userID, itemID)
		if err != nil {
			return err
		}
		if item == nil || !containsID(item.ListIDs, list.ID) {
			continue
		}
		item.ListIDs = removeID(item.ListIDs, list.ID)
		if len(item.ListIDs) == 0 {
			if err := m.discardItem(ctx, item); err != nil {
				return err
			}
			continue
		}
		item.Touch(now)
		if err := m.saveItem(ctx, item); err != nil {
			return err
		}
	}

	if err := m.local.DeleteStudyList(ctx, m.userID, list.ID); err != nil {
		return err
	}
	if m.cloud.Enabled() {
		if err := m.cloud.DeleteList(ctx, m.userID, list.ID); err != nil {
			slog.Warn("study list delete stayed local",
				slog.String("id", list.ID),
				slog.String("error", err.Error()))
		}
	}
	m.notifyListDeleted(m.userID, list.ID)
	return nil
}

// saveList persists locally first, then mirrors. A failed mirror leaves the
// record local-only with a queued retry; the caller's operation still
// succeeds. When the hosted side wins the merge, the local copy and the
// caller's pointer both converge on the winner.
func (m *Manager) saveList(ctx context.Context, list *store.StudyList) error {
	enabled := m.cloud.Enabled()
	if enabled {
		list.SyncStatus = store.SyncStatusPending
	} else {
		list.SyncStatus = store.SyncStatusLocalOnly
	}
	if err := m.local.PutStudyList(ctx, list); err != nil {
		return err
	}
	if enabled {
		winner, err := m.cloud.SyncList(ctx, list)
		switch {
		case err != nil:
			slog.Warn("study list stayed local",
				slog.String("id", list.ID),
				slog.String("error", err.Error()))
			list.SyncStatus = store.SyncStatusLocalOnly
		case winner == nil:
			list.SyncStatus = store.SyncStatusLocalOnly
		default:
			*list = *winner
			list.SyncStatus = store.SyncStatusSynced
		}
		if err := m.local.PutStudyList(ctx, list); err != nil {
			return err
		}
	}
	m.notifyListUpserted(list)
	return nil
}

// saveItem mirrors saveList for saved items.
func (m *Manager) saveItem(ctx context.Context, item *store.SavedItem) error {
	enabled := m.cloud.Enabled()
	if enabled {
		item.SyncStatus = store.SyncStatusPending
	} else {
		item.SyncStatus = store.SyncStatusLocalOnly
	}
	if err := m.local.PutSavedItem(ctx, item); err != nil {
		return err
	}
	if enabled {
		winner, err := m.cloud.SyncItem(ctx, item)
		switch {
		case err != nil:
			slog.Warn("saved item stayed local",
				slog.String("id", item.ID),
				slog.String("error", err.Error()))
			item.SyncStatus = store.SyncStatusLocalOnly
		case winner == nil:
			item.SyncStatus = store.SyncStatusLocalOnly
		default:
			*item = *winner
			item.SyncStatus = store.SyncStatusSynced
		}
		if err := m.local.PutSavedItem(ctx, item); err != nil {
			return err
		}
	}
	m.notifyItemUpserted(item)
	return nil
}

// discardItem removes an item that is filed nowhere.
func (m *Manager) discardItem(ctx context.Context, item *store.SavedItem) error {
	if err := m.local.DeleteSavedItem(ctx, m.userID, item.ID); err != nil {
		return err
	}
	if m.cloud.Enabled() {
		if err := m.cloud.DeleteItem(ctx, m.userID, item.ID); err != nil {
			slog.Warn("saved item delete stayed local",
				slog.String("id", item.ID),
				slog.String("error", err.Error()))
		}
	}
	m.notifyItemDeleted(m.userID, item.ID)
	return nil
}

func (m *Manager) requireList(ctx context.Context, id string) (*store.StudyList, error) {
	list, err := m.local.StudyList(ctx, m.userID, id)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, errs.NotFound("study list %s not found", id)
	}
	return list, nil
}

func (m *Manager) requireItem(ctx context.Context, id string) (*store.SavedItem, error) {
	item, err := m.local.SavedItem(ctx, m.userID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errs.NotFound("saved item %s not found", id)
	}
	return item, nil
}

func (m *Manager) requireCompatibleLists(ctx context.Context, item *store.SavedItem, listIDs []string) ([]*store.StudyList, error) {
	lists := make([]*store.StudyList, 0, len(listIDs))
	for _, listID := range listIDs {
		list, err := m.requireList(ctx, listID)
		if err != nil {
			return nil, err
		}
		if !list.Kind.Accepts(item.LexemeEntry()) {
			return nil, errs.ValidationFailed("%s content cannot join %s list %q",
				item.ContentType, list.Kind, list.Name)
		}
		lists = append(lists, list)
	}
	return lists, nil
}

// Bootstrap runs the startup reconciliation: pull the hosted snapshot, merge
// it record by record, then push everything still unsynced.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if !m.cloud.Enabled() {
		return nil
	}
	snapshot, err := m.cloud.FetchAll(ctx)
	if err != nil {
		return err
	}
	for _, remote := range snapshot.Lists {
		if err := m.reconcileList(ctx, remote); err != nil {
			return err
		}
	}
	for _, remote := range snapshot.Items {
		if err := m.reconcileItem(ctx, remote); err != nil {
			return err
		}
	}
	return m.PushPending(ctx)
}

// PushPending mirrors every record that has not been acknowledged by the
// hosted store, in batches. Records whose batch fails stay local-only; the
// retry queue flushes them later.
func (m *Manager) PushPending(ctx context.Context) error {
	if !m.cloud.Enabled() {
		return nil
	}

	lists, err := m.local.StudyLists(ctx, m.userID)
	if err != nil {
		return err
	}
	pendingLists := make([]*store.StudyList, 0, len(lists))
	for _, list := range lists {
		if list.SyncStatus != store.SyncStatusSynced {
			pendingLists = append(pendingLists, list)
		}
	}
	listWinners, _ := m.cloud.SyncLists(ctx, pendingLists)
	wonLists := map[string]bool{}
	for _, winner := range listWinners {
		applied := *winner
		applied.SyncStatus = store.SyncStatusSynced
		if err := m.local.PutStudyList(ctx, &applied); err != nil {
			return err
		}
		wonLists[applied.ID] = true
	}
	for _, list := range pendingLists {
		if wonLists[list.ID] {
			continue
		}
		list.SyncStatus = store.SyncStatusLocalOnly
		if err := m.local.PutStudyList(ctx, list); err != nil {
			return err
		}
	}

	items, err := m.local.SavedItems(ctx, m.userID)
	if err != nil {
		return err
	}
	pendingItems := make([]*store.SavedItem, 0, len(items))
	for _, item := range items {
		if item.SyncStatus != store.SyncStatusSynced {
			pendingItems = append(pendingItems, item)
		}
	}
	itemWinners, _ := m.cloud.SyncItems(ctx, pendingItems)
	wonItems := map[string]bool{}
	for _, winner := range itemWinners {
		applied := *winner
		applied.SyncStatus = store.SyncStatusSynced
		if err := m.local.PutSavedItem(ctx, &applied); err != nil {
			return err
		}
		wonItems[applied.ID] = true
	}
	for _, item := range pendingItems {
		if wonItems[item.ID] {
			continue
		}
		item.SyncStatus = store.SyncStatusLocalOnly
		if err := m.local.PutSavedItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Run consumes the remote-change stream until ctx is done. Failures to apply
// a single change are logged and skipped; the next Bootstrap absorbs them.
func (m *Manager) Run(ctx context.Context) error {
	changes, err := m.cloud.Changes(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		if err := m.applyChange(ctx, change); err != nil {
			slog.Warn("failed to apply remote change",
				slog.String("table", change.Table),
				slog.String("op", change.Op),
				slog.String("id", change.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (m *Manager) applyChange(ctx context.Context, change RemoteChange) error {
	switch change.Table {
	case "study_list":
		if change.Op == "DELETE" {
			if err := m.local.DeleteStudyList(ctx, m.userID, change.ID); err != nil {
				return err
			}
			m.notifyListDeleted(change.UserID, change.ID)
			return nil
		}
		remote, err := m.cloud.FetchList(ctx, change.ID)
		if err != nil {
			return err
		}
		if remote == nil {
			// Deleted again before the fetch; the DELETE change follows.
			return nil
		}
		return m.reconcileList(ctx, remote)
	case "saved_item":
		if change.Op == "DELETE" {
			if err := m.local.DeleteSavedItem(ctx, m.userID, change.ID); err != nil {
				return err
			}
			m.notifyItemDeleted(change.UserID, change.ID)
			return nil
		}
		remote, err := m.cloud.FetchItem(ctx, change.ID)
		if err != nil {
			return err
		}
		if remote == nil {
			return nil
		}
		return m.reconcileItem(ctx, remote)
	default:
		return nil
	}
}

// reconcileList merges one hosted list into local storage with
// last-writer-wins semantics. The losing copy is discarded.
func (m *Manager) reconcileList(ctx context.Context, remote *store.StudyList) error {
	local, err := m.local.StudyList(ctx, m.userID, remote.ID)
	if err != nil {
		return err
	}
	if ResolveStudyList(local, remote) == local && local != nil {
		// Same revision on both sides means the hosted store has this copy;
		// a strictly newer local copy keeps waiting for its own push.
		if local.SyncStatus != store.SyncStatusSynced &&
			!newerRevision(local.Version, local.UpdatedTs, remote.Version, remote.UpdatedTs) {
			local.SyncStatus = store.SyncStatusSynced
			return m.local.PutStudyList(ctx, local)
		}
		return nil
	}
	applied := *remote
	applied.SyncStatus = store.SyncStatusSynced
	if err := m.local.PutStudyList(ctx, &applied); err != nil {
		return err
	}
	m.notifyListUpserted(&applied)
	return nil
}

// reconcileItem mirrors reconcileList for saved items.
func (m *Manager) reconcileItem(ctx context.Context, remote *store.SavedItem) error {
	local, err := m.local.SavedItem(ctx, m.userID, remote.ID)
	if err != nil {
		return err
	}
	if ResolveSavedItem(local, remote) == local && local != nil {
		if local.SyncStatus != store.SyncStatusSynced &&
			!newerRevision(local.Version, local.UpdatedTs, remote.Version, remote.UpdatedTs) {
			local.SyncStatus = store.SyncStatusSynced
			return m.local.PutSavedItem(ctx, local)
		}
		return nil
	}
	applied := *remote
	applied.SyncStatus = store.SyncStatusSynced
	if err := m.local.PutSavedItem(ctx, &applied); err != nil {
		return err
	}
	m.notifyItemUpserted(&applied)
	return nil
}

// OnStudyListUpserted handles a queued list write that finally landed: the
// hosted winner is merged back like any other remote copy.
func (m *Manager) OnStudyListUpserted(list *store.StudyList) {
	if list.UserID != m.userID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := m.reconcileList(ctx, list); err != nil {
		slog.Warn("failed to record flushed study list",
			slog.String("id", list.ID),
			slog.String("error", err.Error()))
	}
}

// OnSavedItemUpserted mirrors OnStudyListUpserted for saved items.
func (m *Manager) OnSavedItemUpserted(item *store.SavedItem) {
	if item.UserID != m.userID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := m.reconcileItem(ctx, item); err != nil {
		slog.Warn("failed to record flushed saved item",
			slog.String("id", item.ID),
			slog.String("error", err.Error()))
	}
}

// OnStudyListDeleted forwards a flushed delete; the local copy was already
// removed when the delete was issued.
func (m *Manager) OnStudyListDeleted(userID, id string) {
	if userID != m.userID {
		return
	}
	m.notifyListDeleted(userID, id)
}

// OnSavedItemDeleted mirrors OnStudyListDeleted.
func (m *Manager) OnSavedItemDeleted(userID, id string) {
	if userID != m.userID {
		return
	}
	m.notifyItemDeleted(userID, id)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
