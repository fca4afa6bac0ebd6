// Package sqlite provides a SQLite-backed assetcache.Store. It is the default
// persistent Cache Store for a single edge device.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/storage/sqlite/migrations"
)

const (
	encodingZstd   = "zstd"
	migrationTable = "schema_migrations"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Store persists cache entries in SQLite. Bodies are stored zstd-compressed.
type Store struct {
	sqlDB *sql.DB
}

// Open opens and migrates the store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{sqlDB: sqlDB}
	if err := s.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get implements assetcache.Reader.
func (s *Store) Get(ctx context.Context, cacheID, key string) (assetcache.Entry, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT cache_key, method, url, status, header_json, body, body_encoding, stored_at
		 FROM cache_entries
		 WHERE cache_id = ? AND cache_key = ?`,
		cacheID, key,
	)

	var (
		e          assetcache.Entry
		headerJSON string
		body       []byte
		encoding   string
		storedAt   int64
	)
	if err := row.Scan(&e.Key, &e.Method, &e.URL, &e.Status, &headerJSON, &body, &encoding, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assetcache.Entry{}, false, nil
		}
		return assetcache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	if headerJSON != "" {
		var h http.Header
		if err := json.Unmarshal([]byte(headerJSON), &h); err != nil {
			return assetcache.Entry{}, false, fmt.Errorf("decode headers: %w", err)
		}
		e.Header = h
	}
	switch encoding {
	case encodingZstd:
		raw, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return assetcache.Entry{}, false, fmt.Errorf("decompress body: %w", err)
		}
		e.Body = raw
	case "":
		e.Body = body
	default:
		return assetcache.Entry{}, false, fmt.Errorf("unknown body encoding %q", encoding)
	}
	e.StoredAt = unixMillisToTime(storedAt)
	return e, true, nil
}

// Commit replaces the content of cacheID inside one transaction.
func (s *Store) Commit(ctx context.Context, cacheID string, entries []assetcache.Entry) (err error) {
	if strings.TrimSpace(cacheID) == "" {
		return fmt.Errorf("cache id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (cache_id, cache_key, method, url, status, header_json, body, body_encoding, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range entries {
		headerJSON, merr := json.Marshal(e.Header)
		if merr != nil {
			err = fmt.Errorf("encode headers for %s: %w", e.Key, merr)
			return err
		}
		body, encoding := encodeBody(e.Body)
		if _, err = stmt.ExecContext(ctx,
			cacheID,
			e.Key,
			e.Method,
			e.URL,
			e.Status,
			string(headerJSON),
			body,
			encoding,
			timeToUnixMillis(e.StoredAt),
		); err != nil {
			return fmt.Errorf("insert %s: %w", e.Key, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO caches (cache_id, committed_at) VALUES (?, ?)
		 ON CONFLICT(cache_id) DO UPDATE SET committed_at = excluded.committed_at`,
		cacheID, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record cache: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cache: %w", err)
	}
	return nil
}

// Delete implements assetcache.Store.
func (s *Store) Delete(ctx context.Context, cacheID, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_id = ? AND cache_key = ?`, cacheID, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Drop implements assetcache.Store.
func (s *Store) Drop(ctx context.Context, cacheID string) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("drop entries: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM caches WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("drop cache: %w", err)
	}
	return tx.Commit()
}

// Keys implements assetcache.Lister.
func (s *Store) Keys(ctx context.Context, cacheID string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT cache_key FROM cache_entries WHERE cache_id = ? ORDER BY cache_key`, cacheID)
}

// Caches implements assetcache.Lister.
func (s *Store) Caches(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT cache_id FROM caches ORDER BY cache_id`)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// runMigrations applies embedded SQL migrations in filename order, at most once each.
func (s *Store) runMigrations() error {
	if _, err := s.sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		var applied int
		if err := s.sqlDB.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := s.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(extractUpMigration(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// extractUpMigration returns the SQL in the -- +migrate Up section.
func extractUpMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, down)
	if downIdx == -1 {
		return content[upIdx+len(up):]
	}
	return content[upIdx+len(up) : downIdx]
}

func encodeBody(body []byte) ([]byte, string) {
	if len(body) == 0 {
		return []byte{}, ""
	}
	return encoder.EncodeAll(body, nil), encodingZstd
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

var _ assetcache.Store = (*Store)(nil)
