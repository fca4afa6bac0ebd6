// Package storetest holds the behavioural checks every assetcache.Store
// implementation must pass.
package storetest

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
)

func entry(key, body string) assetcache.Entry {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	return assetcache.Entry{
		Key:      key,
		Method:   http.MethodGet,
		URL:      key[len("GET "):],
		Status:   http.StatusOK,
		Header:   h,
		Body:     []byte(body),
		StoredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Run exercises store. The store returned by newStore must start empty.
func Run(t *testing.T, newStore func(t *testing.T) assetcache.Store) {
	t.Run("missing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), "sca-v1", "GET /")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := s.Keys(context.Background(), "sca-v1")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("commit and get", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Commit(ctx, "sca-v1", []assetcache.Entry{
			entry("GET /", "<html>"),
			entry("GET /app.js", "js"),
		}))

		e, ok, err := s.Get(ctx, "sca-v1", "GET /")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "<html>", string(e.Body))
		assert.Equal(t, http.StatusOK, e.Status)
		assert.Equal(t, "text/plain", e.Header.Get("Content-Type"))
		assert.True(t, e.StoredAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))

		keys, err := s.Keys(ctx, "sca-v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"GET /", "GET /app.js"}, keys)

		ids, err := s.Caches(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sca-v1"}, ids)
	})

	t.Run("keys differing only in punctuation", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Commit(ctx, "sca-v1", []assetcache.Entry{
			entry("GET /css/app.css", "nested"),
			entry("GET /css_app.css", "flat"),
		}))

		keys, err := s.Keys(ctx, "sca-v1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"GET /css/app.css", "GET /css_app.css"}, keys)

		for key, want := range map[string]string{"GET /css/app.css": "nested", "GET /css_app.css": "flat"} {
			e, ok, err := s.Get(ctx, "sca-v1", key)
			require.NoError(t, err)
			require.True(t, ok, key)
			assert.Equal(t, want, string(e.Body))
		}
	})

	t.Run("commit replaces", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Commit(ctx, "sca-v1", []assetcache.Entry{entry("GET /", "a"), entry("GET /old.js", "x")}))
		require.NoError(t, s.Commit(ctx, "sca-v1", []assetcache.Entry{entry("GET /", "b")}))

		keys, err := s.Keys(ctx, "sca-v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"GET /"}, keys)

		e, ok, err := s.Get(ctx, "sca-v1", "GET /")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "b", string(e.Body))
	})

	t.Run("delete and drop", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Commit(ctx, "sca-v0", []assetcache.Entry{entry("GET /", "old")}))
		require.NoError(t, s.Commit(ctx, "sca-v1", []assetcache.Entry{entry("GET /", "new"), entry("GET /app.js", "js")}))

		require.NoError(t, s.Delete(ctx, "sca-v1", "GET /app.js"))
		require.NoError(t, s.Delete(ctx, "sca-v1", "GET /never.js"))
		keys, err := s.Keys(ctx, "sca-v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"GET /"}, keys)

		require.NoError(t, s.Drop(ctx, "sca-v0"))
		ids, err := s.Caches(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sca-v1"}, ids)

		_, ok, err := s.Get(ctx, "sca-v0", "GET /")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent readers", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Commit(ctx, "sca-v1", []assetcache.Entry{entry("GET /", "home")}))

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := s.Get(ctx, "sca-v1", "GET /"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent get: %v", err)
		}
	})
}
