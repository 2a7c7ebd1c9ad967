// Package test holds integration tests that run the store against a real
// PostgreSQL instance. They are skipped unless FUKUSHU_TEST_DSN points at a
// disposable database.
package test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moshimoshi/fukushu/internal/observability"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/internal/version"
	"github.com/moshimoshi/fukushu/store"
	"github.com/moshimoshi/fukushu/store/db"
)

// NewTestingStore connects to the database named by FUKUSHU_TEST_DSN, runs
// migrations and returns a ready store. Tests share the database, so they
// isolate themselves with random user IDs rather than truncating tables.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("FUKUSHU_TEST_DSN")
	if dsn == "" {
		t.Skip("FUKUSHU_TEST_DSN is not set; skipping store integration tests")
	}

	p := &profile.Profile{
		Mode:    "prod",
		Driver:  "postgres",
		DSN:     dsn,
		Version: version.GetCurrentVersion("prod"),
	}
	driver, err := db.NewDBDriver(p)
	require.NoError(t, err)

	ts := store.New(driver, p, observability.NewRecorder(observability.DefaultWindowSize))
	require.NoError(t, ts.Migrate(ctx))
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}
