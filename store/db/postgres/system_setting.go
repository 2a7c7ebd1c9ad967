package postgres

import (
	"context"
	"strings"

	"github.com/moshimoshi/fukushu/store"
)

func (d *DB) UpsertSystemSetting(ctx context.Context, upsert *store.SystemSetting) (*store.SystemSetting, error) {
	query := `
		INSERT INTO system_setting (name, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, description = EXCLUDED.description
		RETURNING name, value, description
	`
	setting := &store.SystemSetting{}
	if err := d.db.QueryRowContext(ctx, query,
		upsert.Name, upsert.Value, upsert.Description,
	).Scan(&setting.Name, &setting.Value, &setting.Description); err != nil {
		return nil, wrapError(err, "upsert system setting")
	}
	return setting, nil
}

func (d *DB) ListSystemSettings(ctx context.Context, find *store.FindSystemSetting) ([]*store.SystemSetting, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.Name; v != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := "SELECT name, value, description FROM system_setting WHERE " + strings.Join(where, " AND ")
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "list system settings")
	}
	defer rows.Close()

	list := []*store.SystemSetting{}
	for rows.Next() {
		setting := &store.SystemSetting{}
		if err := rows.Scan(&setting.Name, &setting.Value, &setting.Description); err != nil {
			return nil, wrapError(err, "scan system setting")
		}
		list = append(list, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "iterate system settings")
	}
	return list, nil
}
