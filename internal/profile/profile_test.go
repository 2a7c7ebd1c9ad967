package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars(t)

	p := &Profile{}
	p.FromEnv()

	assert.Empty(t, p.Secret)
	assert.Empty(t, p.User)
	assert.False(t, p.Premium)
	assert.Equal(t, 500, p.SyncBatchSize)
	assert.Equal(t, float64(10), p.SyncRatePerSec)
	assert.Equal(t, 5, p.SyncFlushMinutes)
}

func TestFromEnv(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("FUKUSHU_SECRET", "sekrit")
	t.Setenv("FUKUSHU_USER", "user-42")
	t.Setenv("FUKUSHU_PREMIUM", "true")
	t.Setenv("FUKUSHU_SYNC_BATCH_SIZE", "100")
	t.Setenv("FUKUSHU_SYNC_RATE_PER_SEC", "2.5")
	t.Setenv("FUKUSHU_SYNC_FLUSH_MINUTES", "1")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "sekrit", p.Secret)
	assert.Equal(t, "user-42", p.User)
	assert.True(t, p.Premium)
	assert.Equal(t, 100, p.SyncBatchSize)
	assert.Equal(t, 2.5, p.SyncRatePerSec)
	assert.Equal(t, 1, p.SyncFlushMinutes)
}

func TestFromEnvIgnoresGarbageNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("FUKUSHU_SYNC_BATCH_SIZE", "lots")

	p := &Profile{}
	p.FromEnv()
	assert.Equal(t, 500, p.SyncBatchSize)
}

func TestValidate(t *testing.T) {
	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("driver defaults to postgres", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.Equal(t, "postgres", p.Driver)
	})

	t.Run("missing data dir fails", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: "/no/such/dir"}
		require.Error(t, p.Validate())
	})

	t.Run("sync knobs are clamped to sane values", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), SyncBatchSize: -1, SyncRatePerSec: 0, SyncFlushMinutes: -5}
		require.NoError(t, p.Validate())
		assert.Equal(t, 500, p.SyncBatchSize)
		assert.Equal(t, float64(10), p.SyncRatePerSec)
		assert.Equal(t, 5, p.SyncFlushMinutes)
	})
}

func TestIsSyncEnabled(t *testing.T) {
	assert.False(t, (&Profile{}).IsSyncEnabled())
	assert.False(t, (&Profile{Premium: true}).IsSyncEnabled())
	assert.False(t, (&Profile{Premium: true, User: "u"}).IsSyncEnabled())
	assert.False(t, (&Profile{User: "u", DSN: "postgres://x"}).IsSyncEnabled())
	assert.True(t, (&Profile{Premium: true, User: "u", DSN: "postgres://x"}).IsSyncEnabled())
}

func TestIsDev(t *testing.T) {
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{Mode: "demo"}).IsDev())
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FUKUSHU_SECRET",
		"FUKUSHU_USER",
		"FUKUSHU_PREMIUM",
		"FUKUSHU_SYNC_BATCH_SIZE",
		"FUKUSHU_SYNC_RATE_PER_SEC",
		"FUKUSHU_SYNC_FLUSH_MINUTES",
	} {
		t.Setenv(key, "")
	}
}
