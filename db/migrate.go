package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirty is returned by Migrate when a previous run failed halfway and
// left schema_migrations flagged dirty.
var ErrDirty = errors.New("schema_migrations is dirty")

// Migrate applies every pending versioned migration. Applied versions are
// tracked by golang-migrate in schema_migrations.
func Migrate(conn *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	err = m.Up()
	var dirty migrate.ErrDirty
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("database schema up to date")
	case errors.As(err, &dirty):
		return fmt.Errorf("%w: version %d", ErrDirty, dirty.Version)
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	default:
		version, _, _ := m.Version()
		logger.Info("database schema migrated", zap.Uint("version", version))
	}
	return nil
}
