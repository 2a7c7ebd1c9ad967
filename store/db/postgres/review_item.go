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
	"github.com/moshimoshi/fukushu/store/filter"
)

// reviewItemFields is the canonical SELECT/RETURNING list. Timestamps come
// back as epoch milliseconds.
var reviewItemFields = strings.Join([]string{
	"id", "user_id", "content_type", "content_id",
	"primary_text", "secondary_text", "tertiary_text", "audio_url", "image_url",
	"status", "interval_days", "ease_factor", "repetitions",
	tsExpr("last_reviewed_ts"), tsExpr("next_review_ts"),
	"review_count", "correct_count", "incorrect_count", "current_streak", "best_streak", "avg_response_ms",
	"tags", "set_ids", "priority", tsExpr("pinned_ts"),
	"row_status", "version", tsExpr("created_ts"), tsExpr("updated_ts"),
}, ", ")

func scanReviewItem(row rowScanner) (*store.ReviewItem, error) {
	item := &store.ReviewItem{}
	var lastReviewedTs, pinnedTs sql.NullInt64
	if err := row.Scan(
		&item.ID, &item.UserID, &item.ContentType, &item.ContentID,
		&item.PrimaryText, &item.SecondaryText, &item.TertiaryText, &item.AudioURL, &item.ImageURL,
		&item.Status, &item.Interval, &item.EaseFactor, &item.Repetitions,
		&lastReviewedTs, &item.NextReviewTs,
		&item.ReviewCount, &item.CorrectCount, &item.IncorrectCount, &item.CurrentStreak, &item.BestStreak, &item.AvgResponseMs,
		pq.Array(&item.Tags), pq.Array(&item.SetIDs), &item.Priority, &pinnedTs,
		&item.RowStatus, &item.Version, &item.CreatedTs, &item.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if lastReviewedTs.Valid {
		item.LastReviewedTs = &lastReviewedTs.Int64
	}
	if pinnedTs.Valid {
		item.PinnedTs = &pinnedTs.Int64
	}
	return item, nil
}

func (d *DB) CreateReviewItem(ctx context.Context, create *store.ReviewItem) (*store.ReviewItem, error) {
	query := `
		INSERT INTO review_item (
			id, user_id, content_type, content_id,
			primary_text, secondary_text, tertiary_text, audio_url, image_url,
			status, interval_days, ease_factor, repetitions,
			last_reviewed_ts, next_review_ts,
			review_count, correct_count, incorrect_count, current_streak, best_streak, avg_response_ms,
			tags, set_ids, priority, pinned_ts,
			row_status, version, created_ts, updated_ts
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			` + tsParam(14) + `, ` + tsParam(15) + `,
			$16, $17, $18, $19, $20, $21,
			$22, $23, $24, ` + tsParam(25) + `,
			$26, $27, ` + tsParam(28) + `, ` + tsParam(29) + `
		)
		RETURNING ` + reviewItemFields

	item, err := scanReviewItem(d.db.QueryRowContext(ctx, query,
		create.ID, create.UserID, create.ContentType, create.ContentID,
		create.PrimaryText, create.SecondaryText, create.TertiaryText, create.AudioURL, create.ImageURL,
		create.Status, create.Interval, create.EaseFactor, create.Repetitions,
		nullableMs(create.LastReviewedTs), create.NextReviewTs,
		create.ReviewCount, create.CorrectCount, create.IncorrectCount, create.CurrentStreak, create.BestStreak, create.AvgResponseMs,
		textArray(create.Tags), textArray(create.SetIDs), create.Priority, nullableMs(create.PinnedTs),
		create.RowStatus, create.Version, create.CreatedTs, create.UpdatedTs,
	))
	if err != nil {
		return nil, wrapError(err, "create review item")
	}
	return item, nil
}

func (d *DB) ListReviewItems(ctx context.Context, find *store.FindReviewItem) ([]*store.ReviewItem, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(find.IDs) > 0 {
		where, args = append(where, "id = ANY ("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDs))
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
	if v := find.Status; v != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Priority; v != nil {
		where, args = append(where, "priority = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SetID; v != nil {
		where, args = append(where, placeholder(len(args)+1)+" = ANY (set_ids)"), append(args, *v)
	}
	if v := find.Tag; v != nil {
		where, args = append(where, placeholder(len(args)+1)+" = ANY (tags)"), append(args, *v)
	}
	if v := find.DueBeforeTs; v != nil {
		where, args = append(where, "next_review_ts <= "+tsParam(len(args)+1)), append(args, *v)
	}
	if find.PinnedOnly {
		where = append(where, "pinned_ts IS NOT NULL")
	}
	if v := find.Filter; v != nil {
		engine, err := filter.DefaultReviewItemEngine()
		if err != nil {
			return nil, err
		}
		stmt, err := engine.CompileToStatement(*v, filter.RenderOptions{ArgOffset: len(args)})
		if err != nil {
			return nil, err
		}
		where, args = append(where, stmt.SQL), append(args, stmt.Args...)
	}
	if v := find.Cursor; v != nil {
		cursor, err := store.DecodeCursor(*v)
		if err != nil {
			return nil, err
		}
		where = append(where, fmt.Sprintf("(updated_ts, id) < (%s, %s)", tsParam(len(args)+1), placeholder(len(args)+2)))
		args = append(args, cursor.UpdatedTs, cursor.ID)
	}

	query := "SELECT " + reviewItemFields + " FROM review_item WHERE " +
		strings.Join(where, " AND ") + " ORDER BY updated_ts DESC, id DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list review items")
	}
	defer rows.Close()

	list := []*store.ReviewItem{}
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, wrapError(err, "scan review item")
		}
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate review items")
	}
	return list, nil
}

func (d *DB) UpdateReviewItem(ctx context.Context, update *store.UpdateReviewItem) (*store.ReviewItem, error) {
	set, args := []string{}, []any{}

	if v := update.PrimaryText; v != nil {
		set, args = append(set, "primary_text = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.SecondaryText; v != nil {
		set, args = append(set, "secondary_text = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.TertiaryText; v != nil {
		set, args = append(set, "tertiary_text = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AudioURL; v != nil {
		set, args = append(set, "audio_url = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ImageURL; v != nil {
		set, args = append(set, "image_url = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Interval; v != nil {
		set, args = append(set, "interval_days = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.EaseFactor; v != nil {
		set, args = append(set, "ease_factor = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Repetitions; v != nil {
		set, args = append(set, "repetitions = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastReviewedTs; v != nil {
		set, args = append(set, "last_reviewed_ts = "+tsParam(len(args)+1)), append(args, *v)
	}
	if v := update.NextReviewTs; v != nil {
		set, args = append(set, "next_review_ts = "+tsParam(len(args)+1)), append(args, *v)
	}
	if v := update.ReviewCount; v != nil {
		set, args = append(set, "review_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CorrectCount; v != nil {
		set, args = append(set, "correct_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.IncorrectCount; v != nil {
		set, args = append(set, "incorrect_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CurrentStreak; v != nil {
		set, args = append(set, "current_streak = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.BestStreak; v != nil {
		set, args = append(set, "best_streak = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AvgResponseMs; v != nil {
		set, args = append(set, "avg_response_ms = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Tags; v != nil {
		set, args = append(set, "tags = "+placeholder(len(args)+1)), append(args, textArray(*v))
	}
	if v := update.SetIDs; v != nil {
		set, args = append(set, "set_ids = "+placeholder(len(args)+1)), append(args, textArray(*v))
	}
	if v := update.Priority; v != nil {
		set, args = append(set, "priority = "+placeholder(len(args)+1)), append(args, *v)
	}
	if update.ClearPinnedTs {
		set = append(set, "pinned_ts = NULL")
	} else if v := update.PinnedTs; v != nil {
		set, args = append(set, "pinned_ts = "+tsParam(len(args)+1)), append(args, *v)
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

	query := "UPDATE review_item SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") + " RETURNING " + reviewItemFields
	item, err := scanReviewItem(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, d.reviewItemUpdateMiss(ctx, update)
		}
		return nil, wrapError(err, "update review item")
	}
	return item, nil
}

// reviewItemUpdateMiss disambiguates a zero-row conditional update: the row
// is either gone or another writer bumped the version first.
func (d *DB) reviewItemUpdateMiss(ctx context.Context, update *store.UpdateReviewItem) error {
	if update.ExpectedVersion == nil {
		return errs.NotFound("review item %s not found", update.ID)
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM review_item WHERE id = $1 AND user_id = $2)",
		update.ID, update.UserID,
	).Scan(&exists); err != nil {
		return wrapError(err, "check review item existence")
	}
	if !exists {
		return errs.NotFound("review item %s not found", update.ID)
	}
	return errs.Conflict("review item %s was modified concurrently", update.ID)
}

func (d *DB) DeleteReviewItem(ctx context.Context, delete *store.DeleteReviewItem) error {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM review_item WHERE id = $1 AND user_id = $2",
		delete.ID, delete.UserID,
	)
	if err != nil {
		return wrapError(err, "delete review item")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errs.NotFound("review item %s not found", delete.ID)
	}
	return nil
}
