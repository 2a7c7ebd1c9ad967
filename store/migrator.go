package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/moshimoshi/fukushu/internal/version"
)

// The migrator keeps the hosted schema in step with the server version. The
// applied schema version is stored as a system setting and compared against
// the version derived from the migration files the binary ships with.
//
// Fresh databases are initialized from LATEST.sql in one shot. Existing
// databases apply the incremental files under migration/{driver}/{minor}/
// whose version lies between the stored and the target version, all inside
// one transaction. Downgrades are rejected in prod mode.
//
// Migration files are named NN__description.sql where NN is the zero-padded
// patch index; file NN maps to schema version {minor}.{NN+1}.

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit separates the patch index from the description in
	// a migration file name, as in "01__add_change_feed.sql".
	MigrateFileNameSplit = "__"
	// LatestSchemaFileName holds the full current schema. Fresh installations
	// apply it directly instead of replaying every incremental migration.
	LatestSchemaFileName = "LATEST.sql"

	// defaultSchemaVersion stands in when no schema version has been stored
	// yet so version comparisons stay well defined.
	defaultSchemaVersion = "0.0.0"

	modeProd = "prod"
)

func getSchemaVersionOrDefault(schemaVersion string) string {
	if schemaVersion == "" {
		return defaultSchemaVersion
	}
	return schemaVersion
}

func isVersionEmpty(schemaVersion string) bool {
	return schemaVersion == "" || schemaVersion == defaultSchemaVersion
}

// shouldApplyMigration reports whether a migration file sits strictly above
// the stored schema version and at or below the target version.
func shouldApplyMigration(fileVersion, currentDBVersion, targetVersion string) bool {
	currentDBVersionSafe := getSchemaVersionOrDefault(currentDBVersion)
	return version.IsVersionGreaterThan(fileVersion, currentDBVersionSafe) &&
		version.IsVersionGreaterOrEqualThan(targetVersion, fileVersion)
}

// validateMigrationFileName checks the "NN__description.sql" convention.
func validateMigrationFileName(filename string) error {
	if !strings.Contains(filename, MigrateFileNameSplit) {
		return errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filename)
	}
	parts := strings.Split(filename, MigrateFileNameSplit)
	if len(parts) < 2 {
		return errors.Errorf("invalid migration filename format: %s", filename)
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return errors.Errorf("migration filename must start with a number: %s", filename)
	}
	return nil
}

// Migrate brings the database schema up to the version this binary expects.
// Fresh databases get the latest schema directly; prod databases on an older
// schema apply the incremental migrations in between.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}

	if s.profile.Mode != modeProd {
		// Dev and demo run against freshly initialized databases, so the
		// incremental path only matters for long-lived prod installations.
		return nil
	}

	storedSchemaVersion, err := s.readSchemaVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read stored schema version")
	}
	currentSchemaVersion, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}
	if !isVersionEmpty(storedSchemaVersion) && version.IsVersionGreaterThan(storedSchemaVersion, currentSchemaVersion) {
		slog.Error("cannot downgrade schema version",
			slog.String("databaseVersion", storedSchemaVersion),
			slog.String("currentVersion", currentSchemaVersion),
		)
		return errors.Errorf("cannot downgrade schema version from %s to %s", storedSchemaVersion, currentSchemaVersion)
	}
	if isVersionEmpty(storedSchemaVersion) || version.IsVersionGreaterThan(currentSchemaVersion, storedSchemaVersion) {
		if err := s.applyMigrations(ctx, storedSchemaVersion, currentSchemaVersion); err != nil {
			return errors.Wrap(err, "failed to apply migrations")
		}
	}
	return nil
}

// applyMigrations runs every migration file between the stored and target
// schema versions inside a single transaction.
func (s *Store) applyMigrations(ctx context.Context, currentSchemaVersion, targetSchemaVersion string) error {
	filePaths, err := fs.Glob(migrationFS, fmt.Sprintf("%s*/*.sql", s.getMigrationBasePath()))
	if err != nil {
		return errors.Wrap(err, "failed to read migration files")
	}
	sort.Strings(filePaths)

	tx, err := s.driver.GetDB().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	schemaVersionForComparison := getSchemaVersionOrDefault(currentSchemaVersion)
	if isVersionEmpty(currentSchemaVersion) {
		slog.Warn("stored schema version is empty, treating as default for migration comparison",
			slog.String("defaultVersion", defaultSchemaVersion))
	}

	slog.Info("start migration",
		slog.String("currentSchemaVersion", schemaVersionForComparison),
		slog.String("targetSchemaVersion", targetSchemaVersion))

	migrationsApplied := 0
	for _, filePath := range filePaths {
		fileSchemaVersion, err := s.getSchemaVersionOfMigrateScript(filePath)
		if err != nil {
			return errors.Wrap(err, "failed to get schema version of migrate script")
		}
		if !shouldApplyMigration(fileSchemaVersion, currentSchemaVersion, targetSchemaVersion) {
			continue
		}

		filename := filepath.Base(filePath)
		if err := validateMigrationFileName(filename); err != nil {
			slog.Warn("migration file has invalid name but will be applied",
				slog.String("file", filePath), slog.String("error", err.Error()))
		}

		slog.Info("applying migration",
			slog.String("file", filePath),
			slog.String("version", fileSchemaVersion))

		buf, err := migrationFS.ReadFile(filePath)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %s", filePath)
		}
		if err := s.execute(ctx, tx, string(buf)); err != nil {
			return errors.Wrapf(err, "failed to execute migration %s", filePath)
		}
		migrationsApplied++
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration transaction")
	}

	slog.Info("migration completed", slog.Int("migrationsApplied", migrationsApplied))

	if err := s.updateCurrentSchemaVersion(ctx, targetSchemaVersion); err != nil {
		return errors.Wrap(err, "failed to update current schema version")
	}
	return nil
}

// preMigrate initializes an empty database with the latest schema and stores
// the resulting schema version.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	buf, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema file: %s", filePath)
	}

	tx, err := s.driver.GetDB().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()
	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.execute(ctx, tx, string(buf)); err != nil {
		return errors.Wrapf(err, "failed to execute schema file %s", filePath)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	schemaVersion, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}
	slog.Info("database initialized successfully", slog.String("schemaVersion", schemaVersion))
	if err := s.updateCurrentSchemaVersion(ctx, schemaVersion); err != nil {
		return errors.Wrap(err, "failed to update current schema version")
	}
	return nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// GetCurrentSchemaVersion derives the schema version this binary targets from
// the migration files shipped for the current minor version.
func (s *Store) GetCurrentSchemaVersion() (string, error) {
	currentVersion := version.GetCurrentVersion(s.profile.Mode)
	minorVersion := version.GetMinorVersion(currentVersion)
	filePaths, err := fs.Glob(migrationFS, fmt.Sprintf("%s%s/*.sql", s.getMigrationBasePath(), minorVersion))
	if err != nil {
		return "", errors.Wrap(err, "failed to read migration files")
	}

	sort.Strings(filePaths)
	if len(filePaths) == 0 {
		return fmt.Sprintf("%s.0", minorVersion), nil
	}
	return s.getSchemaVersionOfMigrateScript(filePaths[len(filePaths)-1])
}

// getSchemaVersionOfMigrateScript maps a migration file path to the schema
// version it produces: migration/{driver}/{minor}/NN__desc.sql is version
// {minor}.{NN+1}. The latest schema file maps to the current target version.
func (s *Store) getSchemaVersionOfMigrateScript(filePath string) (string, error) {
	if strings.HasSuffix(filePath, LatestSchemaFileName) {
		return s.GetCurrentSchemaVersion()
	}

	normalizedPath := filepath.ToSlash(filePath)
	elements := strings.Split(normalizedPath, "/")
	if len(elements) < 2 {
		return "", errors.Errorf("invalid file path: %s", filePath)
	}
	minorVersion := elements[len(elements)-2]
	rawPatchVersion := strings.Split(elements[len(elements)-1], MigrateFileNameSplit)[0]
	patchVersion, err := strconv.Atoi(rawPatchVersion)
	if err != nil {
		return "", errors.Wrapf(err, "failed to convert patch version to int: %s", rawPatchVersion)
	}
	return fmt.Sprintf("%s.%d", minorVersion, patchVersion+1), nil
}

// execute runs one migration script inside tx. PostgreSQL rejects multiple
// statements per ExecContext call, so the script is split and each statement
// executed separately.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// readSchemaVersion returns the stored schema version, or "" when the
// database has never recorded one.
func (s *Store) readSchemaVersion(ctx context.Context) (string, error) {
	setting, err := s.GetSystemSetting(ctx, SystemSettingSchemaVersion)
	if err != nil {
		return "", errors.Wrap(err, "failed to read schema version setting")
	}
	if setting == nil {
		return "", nil
	}
	return setting.Value, nil
}

func (s *Store) updateCurrentSchemaVersion(ctx context.Context, schemaVersion string) error {
	if _, err := s.UpsertSystemSetting(ctx, &SystemSetting{
		Name:        SystemSettingSchemaVersion,
		Value:       schemaVersion,
		Description: "applied database schema version",
	}); err != nil {
		return errors.Wrap(err, "failed to upsert schema version setting")
	}
	return nil
}

const (
	scanDefault = iota
	scanSingleQuote
	scanLineComment
	scanBlockComment
	scanDollarQuote
)

// splitSQL cuts a migration script into individual statements at top-level
// semicolons. Single-quoted strings, dollar-quoted bodies (trigger
// functions) and both comment forms are respected; comments are dropped.
func splitSQL(script string) []string {
	var (
		statements []string
		current    strings.Builder
		dollarTag  string
	)
	state := scanDefault

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch state {
		case scanLineComment:
			if ch == '\n' {
				state = scanDefault
				current.WriteByte(ch)
			}
		case scanBlockComment:
			if ch == '*' && i+1 < len(script) && script[i+1] == '/' {
				state = scanDefault
				i++
			}
		case scanSingleQuote:
			current.WriteByte(ch)
			if ch == '\'' {
				state = scanDefault
			}
		case scanDollarQuote:
			if ch == '$' && strings.HasPrefix(script[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				state = scanDefault
			} else {
				current.WriteByte(ch)
			}
		default:
			switch {
			case ch == '-' && i+1 < len(script) && script[i+1] == '-':
				state = scanLineComment
				i++
			case ch == '/' && i+1 < len(script) && script[i+1] == '*':
				state = scanBlockComment
				i++
			case ch == '\'':
				state = scanSingleQuote
				current.WriteByte(ch)
			case ch == '$':
				if tag, ok := dollarQuoteTag(script[i:]); ok {
					state = scanDollarQuote
					dollarTag = tag
					current.WriteString(tag)
					i += len(tag) - 1
				} else {
					current.WriteByte(ch)
				}
			case ch == ';':
				current.WriteByte(ch)
				flush()
			default:
				current.WriteByte(ch)
			}
		}
	}
	flush()
	return statements
}

// dollarQuoteTag returns the dollar-quote delimiter at the start of s, such
// as "$$" or "$fn$". Anything other than identifier characters between the
// dollars means s does not start a dollar quote.
func dollarQuoteTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		ch := s[i]
		if ch == '$' {
			return s[:i+1], true
		}
		if ch != '_' && (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return "", false
		}
	}
	return "", false
}
