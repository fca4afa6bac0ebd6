// Package storage opens the Cache Store selected by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/assetcache/filestore"
	"github.com/briangreenhill/cropadvisor/internal/config"
	"github.com/briangreenhill/cropadvisor/internal/storage/postgres"
	"github.com/briangreenhill/cropadvisor/internal/storage/sqlite"
)

// Open returns the configured store and a function that releases it.
func Open(ctx context.Context, cfg config.StoreConfig) (assetcache.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory:
		return assetcache.NewMemoryStore(), noop, nil
	case config.DriverFile:
		var (
			s   *filestore.Store
			err error
		)
		if cfg.CacheDir != "" {
			s, err = filestore.New(cfg.CacheDir)
		} else {
			s, err = filestore.NewDefault("")
		}
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, noop, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
