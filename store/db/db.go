// Package db selects the hosted store driver. The hosted store runs on
// PostgreSQL only; on-device persistence is the localstore package's job,
// so there is no second hosted driver to pick from.
package db

import (
	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/store"
	"github.com/moshimoshi/fukushu/store/db/postgres"
)

// NewDBDriver creates a new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errs.ValidationFailed("unknown db driver %q: only 'postgres' is supported", profile.Driver)
	}
}
