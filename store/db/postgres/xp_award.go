package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/moshimoshi/fukushu/store"
)

var xpAwardFields = strings.Join([]string{
	"id", "user_id", "session_id",
	"xp", "session_xp", "bonus_xp", "new_level", tsExpr("created_ts"),
}, ", ")

func scanXPAward(row rowScanner) (*store.XPAward, error) {
	award := &store.XPAward{}
	if err := row.Scan(
		&award.ID, &award.UserID, &award.SessionID,
		&award.XP, &award.SessionXP, &award.BonusXP, &award.NewLevel, &award.CreatedTs,
	); err != nil {
		return nil, err
	}
	return award, nil
}

// CreateXPAward inserts at most one award per (user, session). A replay
// loses the conflict and gets the original row back with created=false.
func (d *DB) CreateXPAward(ctx context.Context, create *store.XPAward) (*store.XPAward, bool, error) {
	query := `
		INSERT INTO xp_award (id, user_id, session_id, xp, session_xp, bonus_xp, new_level, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ` + tsParam(8) + `)
		ON CONFLICT (user_id, session_id) DO NOTHING
		RETURNING ` + xpAwardFields

	award, err := scanXPAward(d.db.QueryRowContext(ctx, query,
		create.ID, create.UserID, create.SessionID,
		create.XP, create.SessionXP, create.BonusXP, create.NewLevel, create.CreatedTs,
	))
	if err == nil {
		return award, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, wrapError(err, "create xp award")
	}

	existing, err := scanXPAward(d.db.QueryRowContext(ctx,
		"SELECT "+xpAwardFields+" FROM xp_award WHERE user_id = $1 AND session_id = $2",
		create.UserID, create.SessionID,
	))
	if err != nil {
		return nil, false, wrapError(err, "load existing xp award")
	}
	return existing, false, nil
}

func (d *DB) ListXPAwards(ctx context.Context, find *store.FindXPAward) ([]*store.XPAward, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SessionID; v != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := "SELECT " + xpAwardFields + " FROM xp_award WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_ts DESC, id DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list xp awards")
	}
	defer rows.Close()

	list := []*store.XPAward{}
	for rows.Next() {
		award, err := scanXPAward(rows)
		if err != nil {
			return nil, wrapError(err, "scan xp award")
		}
		list = append(list, award)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate xp awards")
	}
	return list, nil
}

func (d *DB) GetTotalXP(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := d.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(xp), 0) FROM xp_award WHERE user_id = $1",
		userID,
	).Scan(&total)
	if err != nil {
		return 0, wrapError(err, "sum xp awards")
	}
	return total, nil
}
