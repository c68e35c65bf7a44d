package store

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/locplace/mapscan/migrations"
)

// ErrSchemaTooNew means the database was migrated by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this build supports")

// SupportedVersion returns the highest migration version embedded in the
// binary.
func SupportedVersion() (uint, error) {
	return latestVersion(migrations.FS)
}

func latestVersion(fsys fs.FS) (uint, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return 0, err
	}
	var latest uint
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return 0, fmt.Errorf("malformed migration name %q", name)
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed migration name %q: %w", name, err)
		}
		latest = max(latest, uint(v))
	}
	if latest == 0 {
		return 0, errors.New("no migrations embedded")
	}
	return latest, nil
}

// CheckSchemaVersion compares the database's schema version with the one
// this build supports.
func CheckSchemaVersion(current, supported uint) error {
	if current > supported {
		return fmt.Errorf("%w: database at %d, build supports %d", ErrSchemaTooNew, current, supported)
	}
	return nil
}

// Migrate refuses to touch a database newer than the embedded migrations,
// then applies any pending ones. It returns the version before and after.
func Migrate(databaseURL string) (from, to uint, err error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close() //nolint:errcheck // Close error not actionable

	supported, err := SupportedVersion()
	if err != nil {
		return 0, 0, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return 0, 0, fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return from, from, fmt.Errorf("database schema version %d is dirty", from)
	}

	if err := CheckSchemaVersion(from, supported); err != nil {
		return from, from, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return from, from, fmt.Errorf("failed to run migrations: %w", err)
	}
	return from, supported, nil
}
