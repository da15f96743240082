// Package repositories opens the record store driver selected by
// configuration.
package repositories

import (
	"context"
	"fmt"

	"launchpad/internal/config"
	"launchpad/internal/ports"
	"launchpad/internal/repositories/postgres"
	"launchpad/internal/repositories/sqlite"
)

// Open returns the configured store. The caller owns Close.
func Open(ctx context.Context, cfg config.StoreConfig) (ports.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.StoreDriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
