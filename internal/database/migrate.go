package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrateDirection selects whether migrations are applied or rolled back.
type MigrateDirection int

const (
	MigrateUp MigrateDirection = iota
	MigrateDown
)

// migratePostgres applies the postgres migrations to the database at url.
func migratePostgres(url string, dir MigrateDirection) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(url))
	if err != nil {
		return 0, fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("close migrations", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	return run(m, dir)
}

// migrateSQLite applies the sqlite migrations over an open handle. The
// handle stays open so in-memory databases keep their schema.
func migrateSQLite(db *sqlx.DB, dir MigrateDirection) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations/sqlite")
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}
	defer src.Close()

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("init sqlite migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("init migrations: %w", err)
	}
	return run(m, dir)
}

func run(m *migrate.Migrate, dir MigrateDirection) (uint, error) {
	var err error
	switch dir {
	case MigrateDown:
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	return version, nil
}

// pgx5URL rewrites a postgres URL to the scheme registered by the pgx/v5
// migrate driver.
func pgx5URL(url string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, prefix) {
			return "pgx5://" + strings.TrimPrefix(url, prefix)
		}
	}
	return url
}
