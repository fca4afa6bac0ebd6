package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/manifest"
)

func newManager(t *testing.T, failing *atomic.Bool) *assetcache.Manager {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() && r.URL.Path == "/app.js" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	mf := manifest.Manifest{ID: "sca-v1", Assets: []string{"/", "/app.js"}}
	m, err := assetcache.New(assetcache.NewMemoryStore(), mf, srv.URL, assetcache.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return m
}

func task(t *testing.T, p InstallAssetsPayload) *asynq.Task {
	t.Helper()
	tk, err := NewInstallTask(p)
	require.NoError(t, err)
	return tk
}

func TestNewInstallTask(t *testing.T) {
	tk, err := NewInstallTask(InstallAssetsPayload{CacheID: "sca-v1", RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, TaskInstallAssets, tk.Type())

	var p InstallAssetsPayload
	require.NoError(t, json.Unmarshal(tk.Payload(), &p))
	assert.Equal(t, "sca-v1", p.CacheID)
	assert.Equal(t, "r1", p.RunID)

	_, err = NewInstallTask(InstallAssetsPayload{})
	assert.Error(t, err)
}

func TestInstallHandlerInstallsAndActivates(t *testing.T) {
	var failing atomic.Bool
	m := newManager(t, &failing)
	h := &InstallHandler{Manager: m, Log: zerolog.Nop()}

	require.NoError(t, h.ProcessTask(context.Background(), task(t, InstallAssetsPayload{CacheID: "sca-v1"})))
	assert.Equal(t, assetcache.StateActive, m.State())

	keys, err := m.Store().Keys(context.Background(), "sca-v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /", "GET /app.js"}, keys)
}

func TestInstallHandlerReturnsFailureForRetry(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	m := newManager(t, &failing)
	h := &InstallHandler{Manager: m, Log: zerolog.Nop()}

	err := h.ProcessTask(context.Background(), task(t, InstallAssetsPayload{CacheID: "sca-v1"}))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "install failures should be retried")

	var fe *assetcache.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "/app.js", fe.Path)
	assert.Equal(t, http.StatusNotFound, fe.Status)

	failing.Store(false)
	require.NoError(t, h.ProcessTask(context.Background(), task(t, InstallAssetsPayload{CacheID: "sca-v1"})))
	assert.Equal(t, assetcache.StateActive, m.State())
}

func TestInstallHandlerSkipsUnsatisfiableTasks(t *testing.T) {
	var failing atomic.Bool
	m := newManager(t, &failing)
	h := &InstallHandler{Manager: m, ManifestPath: "/etc/sca/manifest.yaml", Log: zerolog.Nop()}

	tests := []struct {
		name string
		task *asynq.Task
	}{
		{"bad payload", asynq.NewTask(TaskInstallAssets, []byte("{"))},
		{"other cache id", task(t, InstallAssetsPayload{CacheID: "sca-v2"})},
		{"other manifest", task(t, InstallAssetsPayload{CacheID: "sca-v1", ManifestPath: "/tmp/other.yaml"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ProcessTask(context.Background(), tt.task)
			assert.ErrorIs(t, err, asynq.SkipRetry)
			assert.Equal(t, assetcache.StateUninstalled, m.State())
		})
	}
}
