package store

import (
	"context"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// System setting names used by the server itself.
const (
	// SystemSettingSchemaVersion tracks the applied database schema version.
	SystemSettingSchemaVersion = "schema_version"
)

// SystemSetting is one named instance-wide setting.
type SystemSetting struct {
	Name        string `json:"name" validate:"required"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// FindSystemSetting is the find condition for system settings.
type FindSystemSetting struct {
	Name *string
}

// UpsertSystemSetting writes a setting, replacing any previous value.
func (s *Store) UpsertSystemSetting(ctx context.Context, upsert *SystemSetting) (*SystemSetting, error) {
	if upsert.Name == "" {
		return nil, errs.ValidationFailed("system setting requires a name")
	}
	setting, err := do(ctx, s, "system_setting.upsert", func(ctx context.Context) (*SystemSetting, error) {
		return s.driver.UpsertSystemSetting(ctx, upsert)
	})
	if err == nil {
		s.settingCache.Set(ctx, upsert.Name, setting)
	}
	return setting, err
}

// GetSystemSetting returns a setting by name. Missing settings return nil
// rather than an error so callers can treat absence as a default.
func (s *Store) GetSystemSetting(ctx context.Context, name string) (*SystemSetting, error) {
	if cached, ok := s.settingCache.Get(ctx, name); ok {
		if setting, ok := cached.(*SystemSetting); ok {
			return setting, nil
		}
	}
	list, err := do(ctx, s, "system_setting.get", func(ctx context.Context) ([]*SystemSetting, error) {
		return s.driver.ListSystemSettings(ctx, &FindSystemSetting{Name: &name})
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.settingCache.Set(ctx, name, list[0])
	return list[0], nil
}

// ListSystemSettings lists all settings.
func (s *Store) ListSystemSettings(ctx context.Context, find *FindSystemSetting) ([]*SystemSetting, error) {
	return do(ctx, s, "system_setting.list", func(ctx context.Context) ([]*SystemSetting, error) {
		return s.driver.ListSystemSettings(ctx, find)
	})
}
