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

var studyListFields = strings.Join([]string{
	"id", "user_id", "name", "kind",
	"item_ids", "item_count", "sync_status",
	"row_status", "version", tsExpr("created_ts"), tsExpr("updated_ts"),
}, ", ")

func scanStudyList(row rowScanner) (*store.StudyList, error) {
	list := &store.StudyList{}
	if err := row.Scan(
		&list.ID, &list.UserID, &list.Name, &list.Kind,
		pq.Array(&list.ItemIDs), &list.ItemCount, &list.SyncStatus,
		&list.RowStatus, &list.Version, &list.CreatedTs, &list.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return list, nil
}

// upsertStudyList runs the last-writer-wins write against db or an open
// transaction: it applies only when the incoming (version, updated_ts) is not
// older than the stored row's. When the stored side wins, that row is
// returned instead.
func upsertStudyList(ctx context.Context, q querier, upsert *store.StudyList) (*store.StudyList, error) {
	query := `
		INSERT INTO study_list (
			id, user_id, name, kind, item_ids, item_count, sync_status,
			row_status, version, created_ts, updated_ts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, ` + tsParam(10) + `, ` + tsParam(11) + `)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			item_ids = EXCLUDED.item_ids,
			item_count = EXCLUDED.item_count,
			sync_status = EXCLUDED.sync_status,
			row_status = EXCLUDED.row_status,
			version = EXCLUDED.version,
			updated_ts = EXCLUDED.updated_ts
		WHERE (EXCLUDED.version, EXCLUDED.updated_ts) >= (study_list.version, study_list.updated_ts)
		RETURNING ` + studyListFields

	list, err := scanStudyList(q.QueryRowContext(ctx, query,
		upsert.ID, upsert.UserID, upsert.Name, upsert.Kind,
		textArray(upsert.ItemIDs), upsert.ItemCount, upsert.SyncStatus,
		upsert.RowStatus, upsert.Version, upsert.CreatedTs, upsert.UpdatedTs,
	))
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError(err, "upsert study list")
	}

	// The stored row won; hand it back so the caller converges on it.
	stored, err := scanStudyList(q.QueryRowContext(ctx,
		"SELECT "+studyListFields+" FROM study_list WHERE id = $1 AND user_id = $2",
		upsert.ID, upsert.UserID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("study list %s not found", upsert.ID)
		}
		return nil, wrapError(err, "load winning study list")
	}
	return stored, nil
}

func (d *DB) UpsertStudyList(ctx context.Context, upsert *store.StudyList) (*store.StudyList, error) {
	return upsertStudyList(ctx, d.db, upsert)
}

// UpsertStudyLists applies a sync batch in one transaction so a device
// observes either all of a flushed batch or none of it.
func (d *DB) UpsertStudyLists(ctx context.Context, upserts []*store.StudyList) ([]*store.StudyList, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	lists := make([]*store.StudyList, 0, len(upserts))
	for _, upsert := range upserts {
		list, err := upsertStudyList(ctx, tx, upsert)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapError(err, "commit transaction")
	}
	return lists, nil
}

func (d *DB) ListStudyLists(ctx context.Context, find *store.FindStudyList) ([]*store.StudyList, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Kind; v != nil {
		where, args = append(where, "kind = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UpdatedAfterTs; v != nil {
		where, args = append(where, "updated_ts > "+tsParam(len(args)+1)), append(args, *v)
	}

	query := "SELECT " + studyListFields + " FROM study_list WHERE " +
		strings.Join(where, " AND ") + " ORDER BY updated_ts DESC, id DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list study lists")
	}
	defer rows.Close()

	list := []*store.StudyList{}
	for rows.Next() {
		studyList, err := scanStudyList(rows)
		if err != nil {
			return nil, wrapError(err, "scan study list")
		}
		list = append(list, studyList)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate study lists")
	}
	return list, nil
}

// DeleteStudyList is idempotent: deleting an absent list is not an error,
// because sync replays deletes.
func (d *DB) DeleteStudyList(ctx context.Context, delete *store.DeleteStudyList) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM study_list WHERE id = $1 AND user_id = $2",
		delete.ID, delete.UserID,
	)
	if err != nil {
		return wrapError(err, "delete study list")
	}
	return nil
}
