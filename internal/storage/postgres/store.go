// Package postgres provides an assetcache.Store on PostgreSQL, for hubs where
// several edge processes share one Cache Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
)

const schema = `
CREATE TABLE IF NOT EXISTS asset_caches (
    cache_id TEXT PRIMARY KEY,
    committed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_cache_entries (
    cache_id TEXT NOT NULL REFERENCES asset_caches (cache_id) ON DELETE CASCADE,
    cache_key TEXT NOT NULL,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    status INTEGER NOT NULL,
    header JSONB NOT NULL DEFAULT '{}',
    body BYTEA NOT NULL,
    stored_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (cache_id, cache_key)
);`

// Store persists cache entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema must already exist.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get implements assetcache.Reader.
func (s *Store) Get(ctx context.Context, cacheID, key string) (assetcache.Entry, bool, error) {
	var (
		e      assetcache.Entry
		header []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT cache_key, method, url, status, header, body, stored_at
		 FROM asset_cache_entries
		 WHERE cache_id = $1 AND cache_key = $2`,
		cacheID, key,
	).Scan(&e.Key, &e.Method, &e.URL, &e.Status, &header, &e.Body, &e.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return assetcache.Entry{}, false, nil
	}
	if err != nil {
		return assetcache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	var h http.Header
	if err := json.Unmarshal(header, &h); err != nil {
		return assetcache.Entry{}, false, fmt.Errorf("decode headers: %w", err)
	}
	if len(h) > 0 {
		e.Header = h
	}
	e.StoredAt = e.StoredAt.UTC()
	return e, true, nil
}

// Commit replaces the content of cacheID inside one transaction.
func (s *Store) Commit(ctx context.Context, cacheID string, entries []assetcache.Entry) error {
	if strings.TrimSpace(cacheID) == "" {
		return errors.New("cache id is required")
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(
			`INSERT INTO asset_caches (cache_id, committed_at) VALUES ($1, $2)
			 ON CONFLICT (cache_id) DO UPDATE SET committed_at = EXCLUDED.committed_at`,
			cacheID, time.Now().UTC(),
		)
		batch.Queue(`DELETE FROM asset_cache_entries WHERE cache_id = $1`, cacheID)
		for _, e := range entries {
			header, err := json.Marshal(e.Header)
			if err != nil {
				return fmt.Errorf("encode headers for %s: %w", e.Key, err)
			}
			body := e.Body
			if body == nil {
				body = []byte{}
			}
			batch.Queue(
				`INSERT INTO asset_cache_entries (cache_id, cache_key, method, url, status, header, body, stored_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				cacheID, e.Key, e.Method, e.URL, e.Status, header, body, e.StoredAt.UTC(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("commit cache %s: %w", cacheID, err)
		}
		return nil
	})
}

// Delete implements assetcache.Store.
func (s *Store) Delete(ctx context.Context, cacheID, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM asset_cache_entries WHERE cache_id = $1 AND cache_key = $2`, cacheID, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Drop implements assetcache.Store. Entries go with the cache row.
func (s *Store) Drop(ctx context.Context, cacheID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM asset_caches WHERE cache_id = $1`, cacheID); err != nil {
		return fmt.Errorf("drop cache: %w", err)
	}
	return nil
}

// Keys implements assetcache.Lister.
func (s *Store) Keys(ctx context.Context, cacheID string) ([]string, error) {
	return s.queryStrings(ctx,
		`SELECT cache_key FROM asset_cache_entries WHERE cache_id = $1 ORDER BY cache_key`, cacheID)
}

// Caches implements assetcache.Lister.
func (s *Store) Caches(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT cache_id FROM asset_caches ORDER BY cache_id`)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect rows: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

var _ assetcache.Store = (*Store)(nil)
