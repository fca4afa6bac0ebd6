// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// OriginURL serves the front-end assets the edge caches.
	OriginURL    string `env:"ORIGIN_URL" envDefault:"http://localhost:3000"`
	ManifestPath string `env:"MANIFEST_PATH"`

	Store    StoreConfig
	Install  InstallConfig
	Advisory AdvisoryConfig

	RedisAddr       string        `env:"REDIS_ADDR"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`
}

// StoreConfig selects and locates the Cache Store.
type StoreConfig struct {
	Driver      string `env:"STORE_DRIVER" envDefault:"sqlite"`
	CacheDir    string `env:"CACHE_DIR"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"cropadvisor-cache.db"`
	DatabaseURL string `env:"DATABASE_URL"`
}

// InstallConfig tunes install and activation.
type InstallConfig struct {
	Concurrency     int           `env:"FETCH_CONCURRENCY" envDefault:"4"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	PruneOnActivate bool          `env:"PRUNE_ON_ACTIVATE" envDefault:"true"`
	OfflineFallback string        `env:"OFFLINE_FALLBACK"`
}

// AdvisoryConfig locates the remote advisory API.
type AdvisoryConfig struct {
	BaseURL      string `env:"ADVISORY_API_BASE" envDefault:"http://localhost:8000"`
	ClientID     string `env:"ADVISORY_CLIENT_ID"`
	ClientSecret string `env:"ADVISORY_CLIENT_SECRET"`
	TokenURL     string `env:"ADVISORY_TOKEN_URL"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasQueue returns true if installs should go through the job queue
func (c *Config) HasQueue() bool {
	return c.RedisAddr != ""
}

// HasAdvisoryAuth returns true if OAuth2 client credentials are complete
func (c *Config) HasAdvisoryAuth() bool {
	return c.Advisory.ClientID != "" && c.Advisory.ClientSecret != "" && c.Advisory.TokenURL != ""
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if err := absoluteURL("ORIGIN_URL", c.OriginURL); err != nil {
		return err
	}
	if err := absoluteURL("ADVISORY_API_BASE", c.Advisory.BaseURL); err != nil {
		return err
	}

	switch c.Store.Driver {
	case DriverMemory, DriverFile:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Install.Concurrency < 1 || c.Install.Concurrency > 64 {
		return fmt.Errorf("FETCH_CONCURRENCY must be between 1-64, got %d", c.Install.Concurrency)
	}
	if c.Install.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if (c.Advisory.ClientID != "" || c.Advisory.ClientSecret != "") && !c.HasAdvisoryAuth() {
		return fmt.Errorf("ADVISORY_CLIENT_ID, ADVISORY_CLIENT_SECRET and ADVISORY_TOKEN_URL must be set together")
	}
	return nil
}

func absoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}
