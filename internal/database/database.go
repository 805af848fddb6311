// Package database implements core.Store for PostgreSQL and SQLite.
//
// PostgreSQL is the production backend. Writes notify other processes with
// LISTEN/NOTIFY so every server instance keeps its snapshots current. SQLite
// serves single-process deployments and tests; its change feed only reaches
// subscribers in the same process.
//
// Schema migrations for both backends are embedded and applied with
// golang-migrate, either on startup or through the CLI.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/stockcount/internal/config"
	"github.com/JonMunkholm/stockcount/internal/core"
)

// Store is a core.Store that can provision organizations and must be closed.
type Store interface {
	core.Store
	CreateOrganization(ctx context.Context, name string) (core.Organization, error)
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Open connects to the configured backend, applying migrations first when
// cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.AutoMigrate {
			version, err := migratePostgres(cfg.URL, MigrateUp)
			if err != nil {
				return nil, err
			}
			slog.Info("database migrated", "driver", cfg.Driver, "version", version)
		}
		pool, err := NewPostgresPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s := NewPostgresStore(pool)
		s.ownsPool = true
		return s, nil

	case "sqlite":
		db, err := OpenSQLite(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			version, err := migrateSQLite(db, MigrateUp)
			if err != nil {
				db.Close()
				return nil, err
			}
			slog.Info("database migrated", "driver", cfg.Driver, "version", version)
		}
		return NewSQLiteStore(db), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate applies or rolls back all migrations and returns the resulting
// schema version.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, dir MigrateDirection) (uint, error) {
	switch cfg.Driver {
	case "postgres":
		return migratePostgres(cfg.URL, dir)
	case "sqlite":
		db, err := OpenSQLite(ctx, cfg.URL)
		if err != nil {
			return 0, err
		}
		defer db.Close()
		return migrateSQLite(db, dir)
	default:
		return 0, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
