package sync

import (
	"context"
	gosync "sync"
	"time"

	"log/slog"

	"github.com/go-co-op/gocron"
	"golang.org/x/time/rate"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/store"
)

const (
	// DefaultBatchSize caps how many entities one hosted transaction carries.
	DefaultBatchSize = 500
	// DefaultRatePerSec paces batch writes against the hosted store.
	DefaultRatePerSec = 10

	flushTimeout = 2 * time.Minute
)

// Options tunes the cloud adapter. Zero values fall back to defaults.
type Options struct {
	// DSN is the hosted store connection used by the change feed. Empty
	// disables Changes.
	DSN string
	// BatchSize caps entities per hosted transaction.
	BatchSize int
	// RatePerSec paces consecutive batches.
	RatePerSec float64
}

// Cloud mirrors device-owned records to the hosted store. Every operation is
// a no-op unless Initialize has been called with a premium account: guests
// and free-tier users never reach the network.
//
// Writes are best-effort. The hosted store retries transient failures
// internally with bounded backoff; what still fails is parked in an in-memory
// retry queue and replayed by FlushRetries, so a write that returns an error
// has not been lost, only delayed.
type Cloud struct {
	hosted    Hosted
	dsn       string
	batchSize int
	limiter   *rate.Limiter
	queue     *retryQueue

	mu       gosync.RWMutex
	userID   string
	premium  bool
	listener Listener
}

// NewCloud builds an adapter over the hosted store. Sync stays disabled until
// Initialize is called.
func NewCloud(hosted Hosted, opts Options) *Cloud {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = DefaultRatePerSec
	}
	return &Cloud{
		hosted:    hosted,
		dsn:       opts.DSN,
		batchSize: opts.BatchSize,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		queue:     newRetryQueue(),
	}
}

// Initialize binds the adapter to an account. Sync is enabled only when a
// user is present and the account is premium.
func (c *Cloud) Initialize(userID string, premium bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.premium = premium
}

// Subscribe registers the listener notified when queued entities flush.
func (c *Cloud) Subscribe(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
}

// syncUser returns the account to mirror for, or false when sync is off.
func (c *Cloud) syncUser() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.premium || c.userID == "" {
		return "", false
	}
	return c.userID, true
}

// Enabled reports whether writes currently reach the hosted store.
func (c *Cloud) Enabled() bool {
	_, ok := c.syncUser()
	return ok
}

// Pending returns how many entities are parked in the retry queue.
func (c *Cloud) Pending() int {
	return c.queue.size()
}

func (c *Cloud) notifier() Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}

// queueable reports whether a failed write is worth replaying. Validation
// and authorization failures are deterministic and never retried.
func queueable(err error) bool {
	return !errs.IsValidationFailed(err) && !errs.IsUnauthorized(err)
}

// SyncList mirrors one study list and returns the winning copy, which is the
// stored row when the hosted side was newer. A nil result means the write did
// not reach the hosted store: sync is disabled, the record belongs to another
// account, or the write failed and was queued (in which case the error is
// also returned).
func (c *Cloud) SyncList(ctx context.Context, list *store.StudyList) (*store.StudyList, error) {
	userID, ok := c.syncUser()
	if !ok || list.UserID != userID {
		return nil, nil
	}
	winner, err := c.hosted.UpsertStudyList(ctx, list)
	if err != nil {
		if queueable(err) {
			c.queue.putList(list)
		}
		return nil, err
	}
	return winner, nil
}

// SyncLists mirrors a batch, split into hosted transactions of at most the
// configured batch size with rate pacing between them. Entities in a failed
// batch are queued; the returned slice holds the winners of the batches that
// landed.
func (c *Cloud) SyncLists(ctx context.Context, lists []*store.StudyList) ([]*store.StudyList, error) {
	userID, ok := c.syncUser()
	if !ok {
		return nil, nil
	}
	owned := make([]*store.StudyList, 0, len(lists))
	for _, list := range lists {
		if list.UserID == userID {
			owned = append(owned, list)
		}
	}

	winners := make([]*store.StudyList, 0, len(owned))
	var firstErr error
	for start := 0; start < len(owned); start += c.batchSize {
		end := start + c.batchSize
		if end > len(owned) {
			end = len(owned)
		}
		batch := owned[start:end]
		if err := c.limiter.Wait(ctx); err != nil {
			firstErr = c.queueLists(batch, err, firstErr)
			continue
		}
		got, err := c.hosted.UpsertStudyLists(ctx, batch)
		if err != nil {
			firstErr = c.queueLists(batch, err, firstErr)
			continue
		}
		winners = append(winners, got...)
	}
	return winners, firstErr
}

func (c *Cloud) queueLists(batch []*store.StudyList, err, firstErr error) error {
	if queueable(err) {
		for _, list := range batch {
			c.queue.putList(list)
		}
	}
	slog.Warn("study list batch did not reach the hosted store",
		slog.Int("size", len(batch)),
		slog.String("error", err.Error()))
	if firstErr == nil {
		return err
	}
	return firstErr
}

// SyncItem mirrors one saved item; semantics match SyncList.
func (c *Cloud) SyncItem(ctx context.Context, item *store.SavedItem) (*store.SavedItem, error) {
	userID, ok := c.syncUser()
	if !ok || item.UserID != userID {
		return nil, nil
	}
	winner, err := c.hosted.UpsertSavedItem(ctx, item)
	if err != nil {
		if queueable(err) {
			c.queue.putItem(item)
		}
		return nil, err
	}
	return winner, nil
}

// SyncItems mirrors a batch of saved items; semantics match SyncLists.
func (c *Cloud) SyncItems(ctx context.Context, items []*store.SavedItem) ([]*store.SavedItem, error) {
	userID, ok := c.syncUser()
	if !ok {
		return nil, nil
	}
	owned := make([]*store.SavedItem, 0, len(items))
	for _, item := range items {
		if item.UserID == userID {
			owned = append(owned, item)
		}
	}

	winners := make([]*store.SavedItem, 0, len(owned))
	var firstErr error
	for start := 0; start < len(owned); start += c.batchSize {
		end := start + c.batchSize
		if end > len(owned) {
			end = len(owned)
		}
		batch := owned[start:end]
		if err := c.limiter.Wait(ctx); err != nil {
			firstErr = c.queueItems(batch, err, firstErr)
			continue
		}
		got, err := c.hosted.UpsertSavedItems(ctx, batch)
		if err != nil {
			firstErr = c.queueItems(batch, err, firstErr)
			continue
		}
		winners = append(winners, got...)
	}
	return winners, firstErr
}

func (c *Cloud) queueItems(batch []*store.SavedItem, err, firstErr error) error {
	if queueable(err) {
		for _, item := range batch {
			c.queue.putItem(item)
		}
	}
	slog.Warn("saved item batch did not reach the hosted store",
		slog.Int("size", len(batch)),
		slog.String("error", err.Error()))
	if firstErr == nil {
		return err
	}
	return firstErr
}

// DeleteList removes a study list from the hosted store. Deletes replay
// idempotently, so failures are queued like writes.
func (c *Cloud) DeleteList(ctx context.Context, userID, id string) error {
	owner, ok := c.syncUser()
	if !ok || userID != owner {
		return nil
	}
	err := c.hosted.DeleteStudyList(ctx, &store.DeleteStudyList{ID: id, UserID: userID})
	if err != nil && queueable(err) {
		c.queue.deleteList(userID, id)
	}
	return err
}

// DeleteItem removes a saved item from the hosted store.
func (c *Cloud) DeleteItem(ctx context.Context, userID, id string) error {
	owner, ok := c.syncUser()
	if !ok || userID != owner {
		return nil
	}
	err := c.hosted.DeleteSavedItem(ctx, &store.DeleteSavedItem{ID: id, UserID: userID})
	if err != nil && queueable(err) {
		c.queue.deleteItem(userID, id)
	}
	return err
}

// FetchList loads one hosted study list, or nil when it does not exist.
func (c *Cloud) FetchList(ctx context.Context, id string) (*store.StudyList, error) {
	userID, ok := c.syncUser()
	if !ok {
		return nil, nil
	}
	lists, err := c.hosted.ListStudyLists(ctx, &store.FindStudyList{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return nil, nil
	}
	return lists[0], nil
}

// FetchItem loads one hosted saved item, or nil when it does not exist.
func (c *Cloud) FetchItem(ctx context.Context, id string) (*store.SavedItem, error) {
	userID, ok := c.syncUser()
	if !ok {
		return nil, nil
	}
	items, err := c.hosted.ListSavedItems(ctx, &store.FindSavedItem{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// FetchAll loads the account's full hosted state for startup reconciliation.
func (c *Cloud) FetchAll(ctx context.Context) (*Snapshot, error) {
	userID, ok := c.syncUser()
	if !ok {
		return &Snapshot{}, nil
	}
	lists, err := c.hosted.ListStudyLists(ctx, &store.FindStudyList{UserID: &userID})
	if err != nil {
		return nil, err
	}
	items, err := c.hosted.ListSavedItems(ctx, &store.FindSavedItem{UserID: &userID})
	if err != nil {
		return nil, err
	}
	return &Snapshot{Lists: lists, Items: items}, nil
}

// FlushRetries replays the retry queue. Entities that land notify the
// subscribed listener; entities that fail again are re-enqueued. Safe to call
// concurrently with ongoing sync traffic.
func (c *Cloud) FlushRetries(ctx context.Context) {
	if _, ok := c.syncUser(); !ok {
		return
	}
	lists, items, listDeletes, itemDeletes := c.queue.drain()
	if len(lists)+len(items)+len(listDeletes)+len(itemDeletes) == 0 {
		return
	}
	slog.Info("flushing queued sync writes",
		slog.Int("lists", len(lists)),
		slog.Int("items", len(items)),
		slog.Int("deletes", len(listDeletes)+len(itemDeletes)))

	// Failed batches re-enqueue themselves inside SyncLists/SyncItems, so
	// only the landed winners matter here.
	listener := c.notifier()
	listWinners, _ := c.SyncLists(ctx, lists)
	itemWinners, _ := c.SyncItems(ctx, items)
	if listener != nil {
		for _, list := range listWinners {
			listener.OnStudyListUpserted(list)
		}
		for _, item := range itemWinners {
			listener.OnSavedItemUpserted(item)
		}
	}
	for id, userID := range listDeletes {
		if err := c.DeleteList(ctx, userID, id); err == nil && listener != nil {
			listener.OnStudyListDeleted(userID, id)
		}
	}
	for id, userID := range itemDeletes {
		if err := c.DeleteItem(ctx, userID, id); err == nil && listener != nil {
			listener.OnSavedItemDeleted(userID, id)
		}
	}
}

// ScheduleFlush registers the periodic retry-queue flush on the shared
// scheduler.
func (c *Cloud) ScheduleFlush(scheduler *gocron.Scheduler, interval time.Duration) error {
	_, err := scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		c.FlushRetries(ctx)
	})
	if err != nil {
		return errs.Internal(err, "failed to schedule sync flush")
	}
	return nil
}
