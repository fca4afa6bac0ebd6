package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(origin.Close)

	t.Setenv("ORIGIN_URL", origin.URL)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "cache.db"))
	t.Setenv("MANIFEST_PATH", "")
}

func TestManifestCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "manifest", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "id: sca-v1")
	assert.Contains(t, out, "/components/CropAdvisor.js")
}

func TestInstallStatusRetire(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "uninstalled", st["state"])

	out, err = run(t, "install")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "active", st["state"])

	out, err = run(t, "status")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "installed", st["state"])
	assert.Len(t, st["keys"], 9)
	assert.Equal(t, []any{"sca-v1"}, st["caches"])

	out, err = run(t, "retire", "sca-v1")
	require.NoError(t, err)
	assert.Equal(t, "retired sca-v1", strings.TrimSpace(out))

	out, err = run(t, "status")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "uninstalled", st["state"])
}

func TestInstallFailsOnMissingAsset(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/app.js" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	setupEnv(t)
	t.Setenv("ORIGIN_URL", origin.URL)

	_, err := run(t, "install")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/app.js")

	out, err := run(t, "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Empty(t, st["keys"])
}

func TestRetireNeedsID(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "retire")
	assert.Error(t, err)
}

func TestEvictBreaksCompleteness(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "install")
	require.NoError(t, err)

	out, err := run(t, "evict", "/app.js")
	require.NoError(t, err)
	assert.Equal(t, "evicted GET /app.js from sca-v1", strings.TrimSpace(out))

	out, err = run(t, "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "uninstalled", st["state"])
	assert.Len(t, st["keys"], 8)
	assert.NotContains(t, st["keys"], "GET /app.js")

	// Evicting again is harmless.
	_, err = run(t, "evict", "/app.js")
	require.NoError(t, err)
}
