package assetcache

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Content is lost on restart, so it is
// meant for tests and for edges that re-install on every boot.
type MemoryStore struct {
	mu     sync.RWMutex
	caches map[string]map[string]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{caches: make(map[string]map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, cacheID, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.caches[cacheID][key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

func (s *MemoryStore) Commit(_ context.Context, cacheID string, entries []Entry) error {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		next[e.Key] = cloneEntry(e)
	}

	s.mu.Lock()
	s.caches[cacheID] = next
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, cacheID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches[cacheID], key)
	return nil
}

func (s *MemoryStore) Drop(_ context.Context, cacheID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, cacheID)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, cacheID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.caches[cacheID]))
	for k := range s.caches[cacheID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Caches(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.caches))
	for id := range s.caches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneEntry(e Entry) Entry {
	e.Header = e.Header.Clone()
	e.Body = bytes.Clone(e.Body)
	return e
}

var _ Store = (*MemoryStore)(nil)
