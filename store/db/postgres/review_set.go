package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/lexeme"
	"github.com/moshimoshi/fukushu/store"
)

var reviewSetFields = strings.Join([]string{
	"id", "user_id", "name", "description",
	"item_ids", "item_count", "content_types",
	"progress_new", "progress_learning", "progress_mastered",
	"is_public", "shared_with", "original_set_id",
	"row_status", "version", tsExpr("created_ts"), tsExpr("updated_ts"),
}, ", ")

func scanReviewSet(row rowScanner) (*store.ReviewSet, error) {
	set := &store.ReviewSet{}
	var contentTypes pq.StringArray
	var originalSetID sql.NullString
	if err := row.Scan(
		&set.ID, &set.UserID, &set.Name, &set.Description,
		pq.Array(&set.ItemIDs), &set.ItemCount, &contentTypes,
		&set.Progress.New, &set.Progress.Learning, &set.Progress.Mastered,
		&set.IsPublic, pq.Array(&set.SharedWith), &originalSetID,
		&set.RowStatus, &set.Version, &set.CreatedTs, &set.UpdatedTs,
	); err != nil {
		return nil, err
	}
	set.ContentTypes = make([]lexeme.ContentType, 0, len(contentTypes))
	for _, t := range contentTypes {
		set.ContentTypes = append(set.ContentTypes, lexeme.ContentType(t))
	}
	if originalSetID.Valid {
		set.OriginalSetID = &originalSetID.String
	}
	return set, nil
}

func contentTypeStrings(types []lexeme.ContentType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func (d *DB) CreateReviewSet(ctx context.Context, create *store.ReviewSet) (*store.ReviewSet, error) {
	query := `
		INSERT INTO review_set (
			id, user_id, name, description,
			item_ids, item_count, content_types,
			progress_new, progress_learning, progress_mastered,
			is_public, shared_with, original_set_id,
			row_status, version, created_ts, updated_ts
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			` + tsParam(16) + `, ` + tsParam(17) + `
		)
		RETURNING ` + reviewSetFields

	var originalSetID any
	if create.OriginalSetID != nil {
		originalSetID = *create.OriginalSetID
	}
	set, err := scanReviewSet(d.db.QueryRowContext(ctx, query,
		create.ID, create.UserID, create.Name, create.Description,
		textArray(create.ItemIDs), create.ItemCount, textArray(contentTypeStrings(create.ContentTypes)),
		create.Progress.New, create.Progress.Learning, create.Progress.Mastered,
		create.IsPublic, textArray(create.SharedWith), originalSetID,
		create.RowStatus, create.Version, create.CreatedTs, create.UpdatedTs,
	))
	if err != nil {
		return nil, wrapError(err, "create review set")
	}
	return set, nil
}

func (d *DB) ListReviewSets(ctx context.Context, find *store.FindReviewSet) ([]*store.ReviewSet, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SharedWithUserID; v != nil {
		where, args = append(where, placeholder(len(args)+1)+" = ANY (shared_with)"), append(args, *v)
	}
	if v := find.IsPublic; v != nil {
		where, args = append(where, "is_public = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Cursor; v != nil {
		cursor, err := store.DecodeCursor(*v)
		if err != nil {
			return nil, err
		}
		where = append(where, fmt.Sprintf("(updated_ts, id) < (%s, %s)", tsParam(len(args)+1), placeholder(len(args)+2)))
		args = append(args, cursor.UpdatedTs, cursor.ID)
	}

	query := "SELECT " + reviewSetFields + " FROM review_set WHERE " +
		strings.Join(where, " AND ") + " ORDER BY updated_ts DESC, id DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list review sets")
	}
	defer rows.Close()

	list := []*store.ReviewSet{}
	for rows.Next() {
		set, err := scanReviewSet(rows)
		if err != nil {
			return nil, wrapError(err, "scan review set")
		}
		list = append(list, set)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate review sets")
	}
	return list, nil
}

func (d *DB) UpdateReviewSet(ctx context.Context, update *store.UpdateReviewSet) (*store.ReviewSet, error) {
	set, args := []string{}, []any{}

	if v := update.Name; v != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Description; v != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.IsPublic; v != nil {
		set, args = append(set, "is_public = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.SharedWith; v != nil {
		set, args = append(set, "shared_with = "+placeholder(len(args)+1)), append(args, textArray(*v))
	}
	if v := update.OriginalSetID; v != nil {
		set, args = append(set, "original_set_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RowStatus; v != nil {
		set, args = append(set, "row_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+tsParam(len(args)+1)), append(args, *v)
	}
	set = append(set, "version = version + 1")

	where := []string{
		"id = " + placeholder(len(args)+1),
		"user_id = " + placeholder(len(args)+2),
	}
	args = append(args, update.ID, update.UserID)
	if v := update.ExpectedVersion; v != nil {
		where, args = append(where, "version = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := "UPDATE review_set SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") + " RETURNING " + reviewSetFields
	updated, err := scanReviewSet(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, d.reviewSetUpdateMiss(ctx, update.ID, update.UserID, update.ExpectedVersion)
		}
		return nil, wrapError(err, "update review set")
	}
	return updated, nil
}

func (d *DB) reviewSetUpdateMiss(ctx context.Context, id, userID string, expectedVersion *int64) error {
	if expectedVersion == nil {
		return errs.NotFound("review set %s not found", id)
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM review_set WHERE id = $1 AND user_id = $2)",
		id, userID,
	).Scan(&exists); err != nil {
		return wrapError(err, "check review set existence")
	}
	if !exists {
		return errs.NotFound("review set %s not found", id)
	}
	return errs.Conflict("review set %s was modified concurrently", id)
}

// AddReviewSetItems writes both sides of the membership in one transaction:
// the set's item_ids and each member item's set_ids.
func (d *DB) AddReviewSetItems(ctx context.Context, add *store.AddReviewSetItems) (*store.ReviewSet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	var itemIDs pq.StringArray
	err = tx.QueryRowContext(ctx,
		"SELECT item_ids FROM review_set WHERE id = $1 AND user_id = $2 FOR UPDATE",
		add.SetID, add.UserID,
	).Scan(&itemIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("review set %s not found", add.SetID)
		}
		return nil, wrapError(err, "load review set members")
	}

	existing := make(map[string]bool, len(itemIDs))
	merged := []string(itemIDs)
	for _, id := range itemIDs {
		existing[id] = true
	}
	for _, id := range add.ItemIDs {
		if !existing[id] {
			merged = append(merged, id)
			existing[id] = true
		}
	}

	query := "UPDATE review_set SET item_ids = $1, item_count = $2, version = version + 1, updated_ts = " + tsParam(3) +
		" WHERE id = $4 AND user_id = $5 RETURNING " + reviewSetFields
	set, err := scanReviewSet(tx.QueryRowContext(ctx, query,
		textArray(merged), len(merged), *add.UpdatedTs, add.SetID, add.UserID,
	))
	if err != nil {
		return nil, wrapError(err, "update review set members")
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE review_item SET set_ids = array_append(set_ids, $1), version = version + 1, updated_ts = "+tsParam(2)+
			" WHERE user_id = $3 AND id = ANY ($4) AND NOT ($1 = ANY (set_ids))",
		add.SetID, *add.UpdatedTs, add.UserID, pq.Array(add.ItemIDs),
	); err != nil {
		return nil, wrapError(err, "update item set references")
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapError(err, "commit transaction")
	}
	return set, nil
}

// RemoveReviewSetItems is the mirror of AddReviewSetItems.
func (d *DB) RemoveReviewSetItems(ctx context.Context, remove *store.RemoveReviewSetItems) (*store.ReviewSet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	var itemIDs pq.StringArray
	err = tx.QueryRowContext(ctx,
		"SELECT item_ids FROM review_set WHERE id = $1 AND user_id = $2 FOR UPDATE",
		remove.SetID, remove.UserID,
	).Scan(&itemIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("review set %s not found", remove.SetID)
		}
		return nil, wrapError(err, "load review set members")
	}

	removing := make(map[string]bool, len(remove.ItemIDs))
	for _, id := range remove.ItemIDs {
		removing[id] = true
	}
	kept := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if !removing[id] {
			kept = append(kept, id)
		}
	}

	query := "UPDATE review_set SET item_ids = $1, item_count = $2, version = version + 1, updated_ts = " + tsParam(3) +
		" WHERE id = $4 AND user_id = $5 RETURNING " + reviewSetFields
	set, err := scanReviewSet(tx.QueryRowContext(ctx, query,
		textArray(kept), len(kept), *remove.UpdatedTs, remove.SetID, remove.UserID,
	))
	if err != nil {
		return nil, wrapError(err, "update review set members")
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE review_item SET set_ids = array_remove(set_ids, $1), version = version + 1, updated_ts = "+tsParam(2)+
			" WHERE user_id = $3 AND id = ANY ($4) AND $1 = ANY (set_ids)",
		remove.SetID, *remove.UpdatedTs, remove.UserID, pq.Array(remove.ItemIDs),
	); err != nil {
		return nil, wrapError(err, "update item set references")
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapError(err, "commit transaction")
	}
	return set, nil
}

// SyncReviewSetProgress recomputes the denormalized per-status counts and
// content types from the set's current members.
func (d *DB) SyncReviewSetProgress(ctx context.Context, setID, userID string) (*store.ReviewSet, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	var itemIDs pq.StringArray
	err = tx.QueryRowContext(ctx,
		"SELECT item_ids FROM review_set WHERE id = $1 AND user_id = $2 FOR UPDATE",
		setID, userID,
	).Scan(&itemIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("review set %s not found", setID)
		}
		return nil, wrapError(err, "load review set members")
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT status, content_type, COUNT(*) FROM review_item WHERE user_id = $1 AND id = ANY ($2) GROUP BY status, content_type",
		userID, itemIDs,
	)
	if err != nil {
		return nil, wrapError(err, "aggregate review set progress")
	}
	defer rows.Close()

	var progress store.SetProgress
	typeSet := map[string]bool{}
	for rows.Next() {
		var status, contentType string
		var count int
		if err := rows.Scan(&status, &contentType, &count); err != nil {
			return nil, wrapError(err, "scan review set progress")
		}
		switch status {
		case "LEARNING":
			progress.Learning += count
		case "MASTERED":
			progress.Mastered += count
		default:
			progress.New += count
		}
		typeSet[contentType] = true
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate review set progress")
	}
	contentTypes := make([]string, 0, len(typeSet))
	for t := range typeSet {
		contentTypes = append(contentTypes, t)
	}
	sort.Strings(contentTypes)

	query := `
		UPDATE review_set
		SET progress_new = $1, progress_learning = $2, progress_mastered = $3,
			content_types = $4, version = version + 1, updated_ts = now()
		WHERE id = $5 AND user_id = $6
		RETURNING ` + reviewSetFields
	set, err := scanReviewSet(tx.QueryRowContext(ctx, query,
		progress.New, progress.Learning, progress.Mastered,
		textArray(contentTypes), setID, userID,
	))
	if err != nil {
		return nil, wrapError(err, "update review set progress")
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapError(err, "commit transaction")
	}
	return set, nil
}

// DeleteReviewSet deletes the set and strips its ID from every referencing
// item in the same transaction.
func (d *DB) DeleteReviewSet(ctx context.Context, delete *store.DeleteReviewSet) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM review_set WHERE id = $1 AND user_id = $2",
		delete.ID, delete.UserID,
	)
	if err != nil {
		return wrapError(err, "delete review set")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errs.NotFound("review set %s not found", delete.ID)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE review_item SET set_ids = array_remove(set_ids, $1), version = version + 1, updated_ts = now() WHERE user_id = $2 AND $1 = ANY (set_ids)",
		delete.ID, delete.UserID,
	); err != nil {
		return wrapError(err, "strip set references")
	}

	if err := tx.Commit(); err != nil {
		return wrapError(err, "commit transaction")
	}
	return nil
}
