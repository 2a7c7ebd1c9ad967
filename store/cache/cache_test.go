package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c := New(Config{})
	defer c.Close()

	c.Set(ctx, "a", 1)
	value, ok := c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, 1, value)

	_, ok = c.Get(ctx, "missing")
	require.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := New(Config{CleanupInterval: time.Hour})
	defer c.Close()

	c.SetWithTTL(ctx, "short", "v", 10*time.Millisecond)
	c.SetWithTTL(ctx, "forever", "v", 0)

	_, ok := c.Get(ctx, "short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get(ctx, "short")
	require.False(t, ok)
	_, ok = c.Get(ctx, "forever")
	require.True(t, ok)
}

func TestCacheDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := New(Config{})
	defer c.Close()

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	require.Equal(t, int64(2), c.Size())

	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, int64(1), c.Size())

	c.Clear(ctx)
	require.Equal(t, int64(0), c.Size())
	_, ok = c.Get(ctx, "b")
	require.False(t, ok)
}

func TestCacheOverwriteKeepsSize(t *testing.T) {
	ctx := context.Background()
	c := New(Config{})
	defer c.Close()

	c.Set(ctx, "a", 1)
	c.Set(ctx, "a", 2)
	require.Equal(t, int64(1), c.Size())

	value, ok := c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, 2, value)
}

func TestCacheCapacityEviction(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	evicted := map[string]any{}
	c := New(Config{
		MaxItems: 2,
		OnEviction: func(key string, value any) {
			mu.Lock()
			defer mu.Unlock()
			evicted[key] = value
		},
	})
	defer c.Close()

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Set(ctx, "c", 3)

	require.Equal(t, int64(2), c.Size())
	mu.Lock()
	require.Len(t, evicted, 1)
	mu.Unlock()

	// Overwriting an existing key never evicts.
	c.Set(ctx, "c", 4)
	require.Equal(t, int64(2), c.Size())
	mu.Lock()
	require.Len(t, evicted, 1)
	mu.Unlock()
}

func TestCacheJanitorCollectsExpired(t *testing.T) {
	ctx := context.Background()
	c := New(Config{CleanupInterval: 10 * time.Millisecond})
	defer c.Close()

	c.SetWithTTL(ctx, "short", "v", time.Millisecond)
	require.Eventually(t, func() bool {
		return c.Size() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCacheCloseIsIdempotent(t *testing.T) {
	c := New(Config{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
