package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected Port '8080', got '%s'", cfg.Port)
	}

	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Expected sqlite driver, got '%s'", cfg.Store.Driver)
	}

	if cfg.Install.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", cfg.Install.Concurrency)
	}

	if !cfg.Install.PruneOnActivate {
		t.Error("Pruning should be on by default")
	}

	if cfg.SessionLifetime != 12*time.Hour {
		t.Errorf("Expected 12h session lifetime, got %v", cfg.SessionLifetime)
	}

	if cfg.HasQueue() {
		t.Error("Should not have a queue configured")
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ORIGIN_URL", "http://assets.local:3000")
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("CACHE_DIR", "/tmp/sca")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("PRUNE_ON_ACTIVATE", "false")
	t.Setenv("OFFLINE_FALLBACK", "/offline.html")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected Port '9090', got '%s'", cfg.Port)
	}

	if cfg.OriginURL != "http://assets.local:3000" {
		t.Errorf("Expected OriginURL 'http://assets.local:3000', got '%s'", cfg.OriginURL)
	}

	if cfg.Store.Driver != DriverFile || cfg.Store.CacheDir != "/tmp/sca" {
		t.Errorf("Expected file store in /tmp/sca, got %+v", cfg.Store)
	}

	if cfg.Install.Concurrency != 8 || cfg.Install.FetchTimeout != 5*time.Second {
		t.Errorf("Unexpected install config %+v", cfg.Install)
	}

	if cfg.Install.PruneOnActivate {
		t.Error("Pruning should be disabled")
	}

	if cfg.Install.OfflineFallback != "/offline.html" {
		t.Errorf("Expected fallback '/offline.html', got '%s'", cfg.Install.OfflineFallback)
	}

	if !cfg.HasQueue() {
		t.Error("Should have a queue configured")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad concurrency", map[string]string{"FETCH_CONCURRENCY": "invalid"}},
		{"concurrency out of range", map[string]string{"FETCH_CONCURRENCY": "0"}},
		{"relative origin", map[string]string{"ORIGIN_URL": "/assets"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "redis"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"partial oauth", map[string]string{"ADVISORY_CLIENT_ID": "id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		OriginURL: "http://localhost:3000",
		Store:     StoreConfig{Driver: DriverMemory},
		Install:   InstallConfig{Concurrency: 1, FetchTimeout: time.Second},
		Advisory:  AdvisoryConfig{BaseURL: "http://localhost:8000"},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Should not error with memory store: %v", err)
	}

	cfg.Advisory.ClientID = "id"
	cfg.Advisory.ClientSecret = "secret"
	cfg.Advisory.TokenURL = "http://localhost:8000/token"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Should not error with complete oauth config: %v", err)
	}
	if !cfg.HasAdvisoryAuth() {
		t.Error("Should have advisory auth configured")
	}
}
