package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/store"
)

var reviewSessionFields = strings.Join([]string{
	"id", "user_id", "set_id", "items_reviewed",
	"planned_items", "correct_items", "incorrect_items", "accuracy", "avg_response_ms", "hints_used",
	tsExpr("started_ts"), tsExpr("completed_ts"), tsExpr("paused_ts"),
	"paused_duration_ms", "duration_ms", "is_completed",
	"version", tsExpr("created_ts"), tsExpr("updated_ts"),
}, ", ")

func scanReviewSession(row rowScanner) (*store.ReviewSession, error) {
	session := &store.ReviewSession{}
	var setID sql.NullString
	var itemsReviewed []byte
	var completedTs, pausedTs, durationMs sql.NullInt64
	if err := row.Scan(
		&session.ID, &session.UserID, &setID, &itemsReviewed,
		&session.PlannedItems, &session.CorrectItems, &session.IncorrectItems,
		&session.Accuracy, &session.AvgResponseMs, &session.HintsUsed,
		&session.StartedTs, &completedTs, &pausedTs,
		&session.PausedDurationMs, &durationMs, &session.IsCompleted,
		&session.Version, &session.CreatedTs, &session.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if setID.Valid {
		session.SetID = &setID.String
	}
	if completedTs.Valid {
		session.CompletedTs = &completedTs.Int64
	}
	if pausedTs.Valid {
		session.PausedTs = &pausedTs.Int64
	}
	if durationMs.Valid {
		session.DurationMs = &durationMs.Int64
	}
	session.ItemsReviewed = []store.SessionItemResult{}
	if len(itemsReviewed) > 0 {
		if err := json.Unmarshal(itemsReviewed, &session.ItemsReviewed); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func marshalSessionResults(results []store.SessionItemResult) ([]byte, error) {
	if results == nil {
		results = []store.SessionItemResult{}
	}
	return json.Marshal(results)
}

func (d *DB) CreateReviewSession(ctx context.Context, create *store.ReviewSession) (*store.ReviewSession, error) {
	itemsReviewed, err := marshalSessionResults(create.ItemsReviewed)
	if err != nil {
		return nil, errs.Internal(err, "encode session results")
	}
	var setID any
	if create.SetID != nil {
		setID = *create.SetID
	}

	query := `
		INSERT INTO review_session (
			id, user_id, set_id, items_reviewed,
			planned_items, correct_items, incorrect_items, accuracy, avg_response_ms, hints_used,
			started_ts, completed_ts, paused_ts,
			paused_duration_ms, duration_ms, is_completed,
			version, created_ts, updated_ts
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			` + tsParam(11) + `, ` + tsParam(12) + `, ` + tsParam(13) + `,
			$14, $15, $16, $17,
			` + tsParam(18) + `, ` + tsParam(19) + `
		)
		RETURNING ` + reviewSessionFields

	session, err := scanReviewSession(d.db.QueryRowContext(ctx, query,
		create.ID, create.UserID, setID, itemsReviewed,
		create.PlannedItems, create.CorrectItems, create.IncorrectItems,
		create.Accuracy, create.AvgResponseMs, create.HintsUsed,
		create.StartedTs, nullableMs(create.CompletedTs), nullableMs(create.PausedTs),
		create.PausedDurationMs, nullableMs(create.DurationMs), create.IsCompleted,
		create.Version, create.CreatedTs, create.UpdatedTs,
	))
	if err != nil {
		return nil, wrapError(err, "create review session")
	}
	return session, nil
}

func (d *DB) ListReviewSessions(ctx context.Context, find *store.FindReviewSession) ([]*store.ReviewSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SetID; v != nil {
		where, args = append(where, "set_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.IsCompleted; v != nil {
		where, args = append(where, "is_completed = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.StartedAfterTs; v != nil {
		where, args = append(where, "started_ts > "+tsParam(len(args)+1)), append(args, *v)
	}
	if v := find.StartedBeforeTs; v != nil {
		where, args = append(where, "started_ts < "+tsParam(len(args)+1)), append(args, *v)
	}
	if v := find.Cursor; v != nil {
		cursor, err := store.DecodeCursor(*v)
		if err != nil {
			return nil, err
		}
		where = append(where, fmt.Sprintf("(updated_ts, id) < (%s, %s)", tsParam(len(args)+1), placeholder(len(args)+2)))
		args = append(args, cursor.UpdatedTs, cursor.ID)
	}

	query := "SELECT " + reviewSessionFields + " FROM review_session WHERE " +
		strings.Join(where, " AND ") + " ORDER BY updated_ts DESC, id DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list review sessions")
	}
	defer rows.Close()

	list := []*store.ReviewSession{}
	for rows.Next() {
		session, err := scanReviewSession(rows)
		if err != nil {
			return nil, wrapError(err, "scan review session")
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate review sessions")
	}
	return list, nil
}

func (d *DB) UpdateReviewSession(ctx context.Context, update *store.UpdateReviewSession) (*store.ReviewSession, error) {
	set, args := []string{}, []any{}

	if v := update.ItemsReviewed; v != nil {
		itemsReviewed, err := marshalSessionResults(*v)
		if err != nil {
			return nil, errs.Internal(err, "encode session results")
		}
		set, args = append(set, "items_reviewed = "+placeholder(len(args)+1)), append(args, itemsReviewed)
	}
	if v := update.PlannedItems; v != nil {
		set, args = append(set, "planned_items = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CorrectItems; v != nil {
		set, args = append(set, "correct_items = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.IncorrectItems; v != nil {
		set, args = append(set, "incorrect_items = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Accuracy; v != nil {
		set, args = append(set, "accuracy = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AvgResponseMs; v != nil {
		set, args = append(set, "avg_response_ms = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.HintsUsed; v != nil {
		set, args = append(set, "hints_used = "+placeholder(len(args)+1)), append(args, *v)
	}
	if update.ClearPausedTs {
		set = append(set, "paused_ts = NULL")
	} else if v := update.PausedTs; v != nil {
		set, args = append(set, "paused_ts = "+tsParam(len(args)+1)), append(args, *v)
	}
	if v := update.PausedDurationMs; v != nil {
		set, args = append(set, "paused_duration_ms = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CompletedTs; v != nil {
		set, args = append(set, "completed_ts = "+tsParam(len(args)+1)), append(args, *v)
	}
	if v := update.DurationMs; v != nil {
		set, args = append(set, "duration_ms = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.IsCompleted; v != nil {
		set, args = append(set, "is_completed = "+placeholder(len(args)+1)), append(args, *v)
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

	query := "UPDATE review_session SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") + " RETURNING " + reviewSessionFields
	session, err := scanReviewSession(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, d.reviewSessionUpdateMiss(ctx, update)
		}
		return nil, wrapError(err, "update review session")
	}
	return session, nil
}

func (d *DB) reviewSessionUpdateMiss(ctx context.Context, update *store.UpdateReviewSession) error {
	if update.ExpectedVersion == nil {
		return errs.NotFound("review session %s not found", update.ID)
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM review_session WHERE id = $1 AND user_id = $2)",
		update.ID, update.UserID,
	).Scan(&exists); err != nil {
		return wrapError(err, "check review session existence")
	}
	if !exists {
		return errs.NotFound("review session %s not found", update.ID)
	}
	return errs.Conflict("review session %s was modified concurrently", update.ID)
}

func (d *DB) DeleteReviewSession(ctx context.Context, delete *store.DeleteReviewSession) error {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM review_session WHERE id = $1 AND user_id = $2",
		delete.ID, delete.UserID,
	)
	if err != nil {
		return wrapError(err, "delete review session")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errs.NotFound("review session %s not found", delete.ID)
	}
	return nil
}
