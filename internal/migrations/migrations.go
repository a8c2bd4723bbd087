package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var migrationFiles embed.FS

// Apply brings the archive schema up to date. When apply is false the
// pending state is logged but nothing is executed, so operators can run
// the service read-only against an unmigrated database.
func Apply(db *sql.DB, apply bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}

	if dirty {
		// The schema is a single baseline migration, so forcing the
		// recorded version is always a safe recovery.
		slog.Warn("[Migrations] Interrupted migration detected, forcing recorded version", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("recover dirty migration state at version %d: %w", version, err)
		}
	}

	if !apply {
		slog.Info("[Migrations] Auto-migration disabled, leaving schema untouched", "current_version", version)
		return nil
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	applied, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version after apply: %w", err)
	}
	slog.Info("[Migrations] Schema migrated", "from_version", version, "to_version", applied)
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("wrap database for migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	return m, nil
}
