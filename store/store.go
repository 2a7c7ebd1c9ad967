package store

import (
	"context"
	"time"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/internal/observability"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/internal/retry"
	"github.com/moshimoshi/fukushu/store/cache"
)

// Store provides database access to all raw objects. Every driver call runs
// under a bounded retry for transient failures and is recorded to the
// metrics recorder with its duration and outcome.
type Store struct {
	profile  *profile.Profile
	driver   Driver
	recorder *observability.Recorder
	policy   retry.Policy

	// Cache settings
	cacheConfig cache.Config

	// Caches
	settingCache *cache.Cache // cache for system settings
	listCache    *cache.Cache // cache for whole-user study list reads
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile, recorder *observability.Recorder) *Store {
	// Default cache settings
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
		OnEviction:      nil,
	}

	if recorder == nil {
		recorder = observability.NewRecorder(observability.DefaultWindowSize)
	}

	store := &Store{
		driver:       driver,
		profile:      profile,
		recorder:     recorder,
		policy:       retry.DefaultPolicy(),
		cacheConfig:  cacheConfig,
		settingCache: cache.New(cacheConfig),
		listCache:    cache.New(cacheConfig),
	}

	return store
}

// Recorder exposes the metrics recorder feeding the admin endpoints.
func (s *Store) Recorder() *observability.Recorder {
	return s.recorder
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	// Stop all cache cleanup goroutines
	s.settingCache.Close()
	s.listCache.Close()

	return s.driver.Close()
}

// do runs one driver operation: bounded retry on transient failures, then
// one metrics sample per logical call whatever the outcome.
func do[T any](ctx context.Context, s *Store, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	start := time.Now()
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	}, errs.IsTransient)
	s.recorder.Record(name, time.Since(start), observability.OutcomeFor(err))
	return out, err
}

// run is do for operations without a result.
func run(ctx context.Context, s *Store, name string, op func(ctx context.Context) error) error {
	_, err := do(ctx, s, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
