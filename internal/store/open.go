package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a backing store.
type Config struct {
	Driver  string // "sqlite", "postgres" or empty to infer
	Path    string
	DSN     string
	PageCap int
}

// Open connects the configured store and migrates its schema. With nothing
// configured it returns Unavailable together with ErrNotConfigured, so the
// caller can warn and carry on.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		switch {
		case cfg.DSN != "":
			driver = "postgres"
		case cfg.Path != "":
			driver = "sqlite"
		default:
			return Unavailable{}, ErrNotConfigured
		}
	}

	switch driver {
	case "sqlite", "sqlite3":
		if cfg.Path == "" {
			return Unavailable{}, fmt.Errorf("sqlite store needs a path: %w", ErrNotConfigured)
		}
		db, err := OpenSQLite(cfg.Path, cfg.PageCap)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return db, nil
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return Unavailable{}, fmt.Errorf("postgres store needs a dsn: %w", ErrNotConfigured)
		}
		return OpenPostgres(ctx, cfg.DSN, cfg.PageCap, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
