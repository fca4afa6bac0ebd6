package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/config"
	"github.com/briangreenhill/cropadvisor/internal/manifest"
	"github.com/briangreenhill/cropadvisor/internal/storage"
)

type rootOptions struct {
	manifestPath string
	storeDriver  string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "scactl",
		Short:         "Manage the Smart Crop Advisory offline asset cache",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.manifestPath, "manifest", "", "manifest file (default: MANIFEST_PATH or the built-in manifest)")
	cmd.PersistentFlags().StringVar(&opts.storeDriver, "store", "", "store driver: memory, file, sqlite or postgres (default: STORE_DRIVER)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log lifecycle events to stderr")

	cmd.AddCommand(
		newInstallCmd(opts),
		newStatusCmd(opts),
		newRetireCmd(opts),
		newEvictCmd(opts),
		newManifestCmd(opts),
	)
	return cmd
}

// session is an opened store plus a manager over it.
type session struct {
	cfg   *config.Config
	mgr   *assetcache.Manager
	close func() error
}

func (o *rootOptions) config() (*config.Config, error) {
	if o.manifestPath != "" {
		os.Setenv("MANIFEST_PATH", o.manifestPath) //nolint:errcheck
	}
	if o.storeDriver != "" {
		os.Setenv("STORE_DRIVER", o.storeDriver) //nolint:errcheck
	}
	return config.Load()
}

func (o *rootOptions) logger() zerolog.Logger {
	if !o.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func (o *rootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	mf, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	mgr, err := assetcache.New(store, mf, cfg.OriginURL,
		assetcache.WithHTTPClient(&http.Client{Timeout: cfg.Install.FetchTimeout}),
		assetcache.WithLogger(o.logger()),
		assetcache.WithConcurrency(cfg.Install.Concurrency),
		assetcache.WithPruneOnActivate(cfg.Install.PruneOnActivate),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("asset cache: %w", err)
	}
	return &session{cfg: cfg, mgr: mgr, close: closeStore}, nil
}
