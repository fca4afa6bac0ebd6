// Package filestore implements assetcache.Store on the local filesystem, one
// JSON file per entry and one directory per cache identifier.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
)

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
	defaultPerm   = 0o700
)

// Store keeps entries under dir/<cacheID>/<key>.json.
type Store struct {
	dir string
}

// New creates a file store rooted at dir. Leftover staging directories from
// an interrupted commit are removed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(dir, defaultPerm); err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewDefault creates a file store in ~/.cropadvisor_cache/<subdir>.
func NewDefault(subdir string) (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	base := filepath.Join(home, ".cropadvisor_cache")
	if subdir != "" {
		base = filepath.Join(base, subdir)
	}
	return New(base)
}

// Get implements assetcache.Reader.
func (s *Store) Get(_ context.Context, cacheID, key string) (assetcache.Entry, bool, error) {
	dir, err := s.cacheDir(cacheID)
	if err != nil {
		return assetcache.Entry{}, false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, assetcache.FileName(key)))
	if errors.Is(err, os.ErrNotExist) {
		return assetcache.Entry{}, false, nil
	}
	if err != nil {
		return assetcache.Entry{}, false, err
	}

	var e assetcache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return assetcache.Entry{}, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	// The stored key is authoritative over the file name.
	if e.Key != key {
		return assetcache.Entry{}, false, nil
	}
	return e, true, nil
}

// Commit writes every entry into a staging directory and then swaps it in
// place of the current cache directory.
func (s *Store) Commit(_ context.Context, cacheID string, entries []assetcache.Entry) error {
	final, err := s.cacheDir(cacheID)
	if err != nil {
		return err
	}

	staging := filepath.Join(s.dir, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, defaultPerm); err != nil {
		return err
	}
	for _, e := range entries {
		data, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			_ = os.RemoveAll(staging)
			return err
		}
		if err := os.WriteFile(filepath.Join(staging, assetcache.FileName(e.Key)), data, 0o600); err != nil {
			_ = os.RemoveAll(staging)
			return err
		}
	}

	trash := filepath.Join(s.dir, trashPrefix+uuid.NewString())
	if err := os.Rename(final, trash); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.Rename(staging, final); err != nil {
		// Put the previous content back so readers keep a complete cache.
		_ = os.Rename(trash, final)
		_ = os.RemoveAll(staging)
		return err
	}
	return os.RemoveAll(trash)
}

// Delete implements assetcache.Store.
func (s *Store) Delete(_ context.Context, cacheID, key string) error {
	dir, err := s.cacheDir(cacheID)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, assetcache.FileName(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Drop implements assetcache.Store.
func (s *Store) Drop(_ context.Context, cacheID string) error {
	dir, err := s.cacheDir(cacheID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Keys implements assetcache.Lister.
func (s *Store) Keys(_ context.Context, cacheID string) ([]string, error) {
	dir, err := s.cacheDir(cacheID)
	if err != nil {
		return nil, err
	}
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		var e struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name(), err)
		}
		keys = append(keys, e.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Caches implements assetcache.Lister.
func (s *Store) Caches(_ context.Context) ([]string, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		ids = append(ids, f.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) cacheDir(cacheID string) (string, error) {
	if cacheID == "" || strings.HasPrefix(cacheID, ".") || strings.ContainsAny(cacheID, `/\`) {
		return "", fmt.Errorf("invalid cache id %q", cacheID)
	}
	return filepath.Join(s.dir, cacheID), nil
}

func (s *Store) sweep() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if strings.HasPrefix(f.Name(), stagingPrefix) || strings.HasPrefix(f.Name(), trashPrefix) {
			if err := os.RemoveAll(filepath.Join(s.dir, f.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ assetcache.Store = (*Store)(nil)
