package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTTL applies when Config.DefaultTTL is unset.
	DefaultTTL = 30 * time.Minute
	// DefaultCleanupInterval applies when Config.CleanupInterval is unset.
	DefaultCleanupInterval = 5 * time.Minute
)

// Config configures an in-memory cache.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// MaxItems caps the number of entries; 0 means unbounded. A full cache
	// evicts an expired entry first, then an arbitrary one.
	MaxItems int
	// OnEviction runs when an entry is dropped by expiry or capacity.
	// Explicit Delete and Clear do not trigger it.
	OnEviction func(key string, value any)
}

// Cache is a concurrency-safe in-memory TTL cache. The zero value is not
// usable; construct with New.
type Cache struct {
	config Config
	data   sync.Map // string -> *entry
	size   atomic.Int64
	done   chan struct{}
	once   sync.Once
}

type entry struct {
	value     any
	expiresAt int64 // unix nanos, 0 = never
}

func (e *entry) expired(now int64) bool {
	return e.expiresAt != 0 && now > e.expiresAt
}

// New creates a cache and starts its cleanup goroutine. Callers own the
// cache and must Close it to stop the goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	c := &Cache{
		config: config,
		done:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the live value stored under key.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	raw, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	e := raw.(*entry)
	if e.expired(time.Now().UnixNano()) {
		c.remove(key, e, true)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores value under key. A non-positive ttl means no expiry.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	if c.config.MaxItems > 0 && int(c.size.Load()) >= c.config.MaxItems {
		if _, exists := c.data.Load(key); !exists {
			c.evictOne()
		}
	}
	if _, loaded := c.data.Swap(key, &entry{value: value, expiresAt: expiresAt}); !loaded {
		c.size.Add(1)
	}
}

// Delete removes key if present.
func (c *Cache) Delete(_ context.Context, key string) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
	}
}

// Clear drops every entry.
func (c *Cache) Clear(_ context.Context) {
	c.data.Range(func(key, _ any) bool {
		c.data.Delete(key)
		return true
	})
	c.size.Store(0)
}

// Size counts stored entries, including expired ones the janitor has not
// collected yet.
func (c *Cache) Size() int64 {
	return c.size.Load()
}

// Close stops the cleanup goroutine. The cache itself stays usable.
func (c *Cache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now().UnixNano()
	c.data.Range(func(key, raw any) bool {
		e := raw.(*entry)
		if e.expired(now) {
			c.remove(key.(string), e, true)
		}
		return true
	})
}

func (c *Cache) remove(key string, e *entry, evicted bool) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
		if evicted && c.config.OnEviction != nil {
			c.config.OnEviction(key, e.value)
		}
	}
}

// evictOne frees one slot: an expired entry when one exists, otherwise
// whichever entry the map yields first.
func (c *Cache) evictOne() {
	now := time.Now().UnixNano()
	var victimKey string
	var victim *entry
	c.data.Range(func(key, raw any) bool {
		e := raw.(*entry)
		if e.expired(now) {
			victimKey, victim = key.(string), e
			return false
		}
		if victim == nil {
			victimKey, victim = key.(string), e
		}
		return true
	})
	if victim != nil {
		c.remove(victimKey, victim, true)
	}
}
