package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/store"
)

var savedItemFields = strings.Join([]string{
	"id", "user_id", "content_type", "content_id",
	"text", "reading", "meaning", "tags", "list_ids", "sync_status",
	"row_status", "version", tsExpr("created_ts"), tsExpr("updated_ts"),
}, ", ")

func scanSavedItem(row rowScanner) (*store.SavedItem, error) {
	item := &store.SavedItem{}
	if err := row.Scan(
		&item.ID, &item.UserID, &item.ContentType, &item.ContentID,
		&item.Text, &item.Reading, &item.Meaning,
		pq.Array(&item.Tags), pq.Array(&item.ListIDs), &item.SyncStatus,
		&item.RowStatus, &item.Version, &item.CreatedTs, &item.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return item, nil
}

// upsertSavedItem mirrors upsertStudyList's last-writer-wins semantics.
func upsertSavedItem(ctx context.Context, q querier, upsert *store.SavedItem) (*store.SavedItem, error) {
	query := `
		INSERT INTO saved_item (
			id, user_id, content_type, content_id,
			text, reading, meaning, tags, list_ids, sync_status,
			row_status, version, created_ts, updated_ts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, ` + tsParam(13) + `, ` + tsParam(14) + `)
		ON CONFLICT (id) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			content_id = EXCLUDED.content_id,
			text = EXCLUDED.text,
			reading = EXCLUDED.reading,
			meaning = EXCLUDED.meaning,
			tags = EXCLUDED.tags,
			list_ids = EXCLUDED.list_ids,
			sync_status = EXCLUDED.sync_status,
			row_status = EXCLUDED.row_status,
			version = EXCLUDED.version,
			updated_ts = EXCLUDED.updated_ts
		WHERE (EXCLUDED.version, EXCLUDED.updated_ts) >= (saved_item.version, saved_item.updated_ts)
		RETURNING ` + savedItemFields

	item, err := scanSavedItem(q.QueryRowContext(ctx, query,
		upsert.ID, upsert.UserID, upsert.ContentType, upsert.ContentID,
		upsert.Text, upsert.Reading, upsert.Meaning,
		textArray(upsert.Tags), textArray(upsert.ListIDs), upsert.SyncStatus,
		upsert.RowStatus, upsert.Version, upsert.CreatedTs, upsert.UpdatedTs,
	))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError(err, "upsert saved item")
	}

	stored, err := scanSavedItem(q.QueryRowContext(ctx,
		"SELECT "+savedItemFields+" FROM saved_item WHERE id = $1 AND user_id = $2",
		upsert.ID, upsert.UserID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("saved item %s not found", upsert.ID)
		}
		return nil, wrapError(err, "load winning saved item")
	}
	return stored, nil
}

func (d *DB) UpsertSavedItem(ctx context.Context, upsert *store.SavedItem) (*store.SavedItem, error) {
	return upsertSavedItem(ctx, d.db, upsert)
}

// UpsertSavedItems applies a sync batch in one transaction, like
// UpsertStudyLists.
func (d *DB) UpsertSavedItems(ctx context.Context, upserts []*store.SavedItem) ([]*store.SavedItem, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	items := make([]*store.SavedItem, 0, len(upserts))
	for _, upsert := range upserts {
		item, err := upsertSavedItem(ctx, tx, upsert)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapError(err, "commit transaction")
	}
	return items, nil
}

func (d *DB) ListSavedItems(ctx context.Context, find *store.FindSavedItem) ([]*store.SavedItem, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ContentType; v != nil {
		where, args = append(where, "content_type = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ContentID; v != nil {
		where, args = append(where, "content_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ListID; v != nil {
		where, args = append(where, placeholder(len(args)+1)+" = ANY (list_ids)"), append(args, *v)
	}
	if v := find.UpdatedAfterTs; v != nil {
		where, args = append(where, "updated_ts > "+tsParam(len(args)+1)), append(args, *v)
	}

	query := "SELECT " + savedItemFields + " FROM saved_item WHERE " +
		strings.Join(where, " AND ") + " ORDER BY updated_ts DESC, id DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list saved items")
	}
	defer rows.Close()

	list := []*store.SavedItem{}
	for rows.Next() {
		item, err := scanSavedItem(rows)
		if err != nil {
			return nil, wrapError(err, "scan saved item")
		}
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate saved items")
	}
	return list, nil
}

// DeleteSavedItem is idempotent for the same reason DeleteStudyList is.
func (d *DB) DeleteSavedItem(ctx context.Context, delete *store.DeleteSavedItem) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM saved_item WHERE id = $1 AND user_id = $2",
		delete.ID, delete.UserID,
	)
	if err != nil {
		return wrapError(err, "delete saved item")
	}
	return nil
}
