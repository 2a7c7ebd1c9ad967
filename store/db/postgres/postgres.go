// Package postgres implements the hosted store driver on PostgreSQL.
// It is the only hosted driver; on-device persistence lives in the
// localstore package instead.
package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errs.ValidationFailed("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return nil, errs.Internal(err, "open database")
	}

	// Pool sizing for a single-tenant review backend: a handful of
	// connections is plenty and keeps the footprint small.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		slog.Error("failed to ping database", "error", err)
		return nil, errs.Unavailable(err, "ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_catalog = current_database() AND table_name = 'review_item' AND table_type = 'BASE TABLE')").Scan(&exists)
	if err != nil {
		return false, wrapError(err, "check if database is initialized")
	}
	return exists, nil
}
