package records

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
)

// seeder is implemented by the SQL stores.
type seeder interface {
	Seed(ctx context.Context, data []SeedStudent) (bool, error)
}

// OpenStore opens the SQL store selected by cfg.Driver and seeds it with the
// demo classroom when cfg.Seed is set.
func OpenStore(ctx context.Context, cfg config.RecordsConfig, logger *slog.Logger) (domain.StudentRecordStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var store domain.StudentRecordStore
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create records dir: %w", err)
			}
		}
		s, err := NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = s
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("records driver %q has no SQL store", cfg.Driver)
	}

	if cfg.Seed {
		seeded, err := store.(seeder).Seed(ctx, DemoData())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed records: %w", err)
		}
		if seeded {
			logger.Info("records store seeded with demo classroom", "driver", cfg.Driver)
		}
	}
	return store, nil
}

// OpenDirectory builds the student directory for cfg. The returned close
// function is never nil. Driver "none" yields a nil directory.
func OpenDirectory(ctx context.Context, cfg config.RecordsConfig, logger *slog.Logger) (domain.StudentDirectory, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", "none":
		return nil, noop, nil
	case "mcp":
		d, err := NewMCPDirectory(ctx, cfg.MCP, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("records mcp server %q: %w", cfg.MCP.Name, err)
		}
		return d, d.Close, nil
	default:
		store, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, noop, err
		}
		return NewDirectory(store, logger), store.Close, nil
	}
}
