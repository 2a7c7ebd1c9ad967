package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// sqliteBackend keeps each object store in its own table: the JSON document
// plus the indexed id, user_id and updated_ts columns.
type sqliteBackend struct {
	db *sqlx.DB
}

func openSQLite(path string) (*sqliteBackend, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errs.Unavailable(err, "failed to open sqlite store %s", path)
	}
	// One connection serializes writers; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errs.Unavailable(err, "failed to configure sqlite store")
		}
	}

	backend := &sqliteBackend{db: db}
	if err := backend.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func (b *sqliteBackend) bootstrap() error {
	for _, name := range storeNames {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT NOT NULL PRIMARY KEY,
				user_id TEXT NOT NULL,
				updated_ts INTEGER NOT NULL DEFAULT 0,
				data TEXT NOT NULL
			)`, name),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (user_id, updated_ts)`, name, name),
		}
		for _, stmt := range stmts {
			if _, err := b.db.Exec(stmt); err != nil {
				return errs.Internal(err, "failed to create object store %s", name)
			}
		}
	}
	return nil
}

func (b *sqliteBackend) Get(ctx context.Context, storeName, userID, id string) (*Record, error) {
	if !validStore(storeName) {
		return nil, errs.ValidationFailed("unknown object store %q", storeName)
	}
	record := &Record{}
	query := fmt.Sprintf("SELECT id, user_id, updated_ts, data FROM %s WHERE user_id = ? AND id = ?", storeName)
	if err := b.db.GetContext(ctx, record, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Internal(err, "failed to read local record %s", id)
	}
	return record, nil
}

func (b *sqliteBackend) GetAll(ctx context.Context, storeName, userID string) ([]*Record, error) {
	if !validStore(storeName) {
		return nil, errs.ValidationFailed("unknown object store %q", storeName)
	}
	records := []*Record{}
	query := fmt.Sprintf("SELECT id, user_id, updated_ts, data FROM %s WHERE user_id = ? ORDER BY updated_ts DESC, id DESC", storeName)
	if err := b.db.SelectContext(ctx, &records, query, userID); err != nil {
		return nil, errs.Internal(err, "failed to list local records")
	}
	return records, nil
}

func (b *sqliteBackend) Put(ctx context.Context, storeName string, record *Record) error {
	if !validStore(storeName) {
		return errs.ValidationFailed("unknown object store %q", storeName)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, user_id, updated_ts, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_ts = excluded.updated_ts,
			data = excluded.data`, storeName)
	if _, err := b.db.ExecContext(ctx, query, record.ID, record.UserID, record.UpdatedTs, string(record.Data)); err != nil {
		return errs.Internal(err, "failed to write local record %s", record.ID)
	}
	return nil
}

func (b *sqliteBackend) PutMany(ctx context.Context, storeName string, records []*Record) error {
	if !validStore(storeName) {
		return errs.ValidationFailed("unknown object store %q", storeName)
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "failed to start local transaction")
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s (id, user_id, updated_ts, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_ts = excluded.updated_ts,
			data = excluded.data`, storeName)
	for _, record := range records {
		if _, err := tx.ExecContext(ctx, query, record.ID, record.UserID, record.UpdatedTs, string(record.Data)); err != nil {
			return errs.Internal(err, "failed to write local record %s", record.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Internal(err, "failed to commit local transaction")
	}
	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, storeName, userID, id string) error {
	if !validStore(storeName) {
		return errs.ValidationFailed("unknown object store %q", storeName)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ? AND id = ?", storeName)
	if _, err := b.db.ExecContext(ctx, query, userID, id); err != nil {
		return errs.Internal(err, "failed to delete local record %s", id)
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
