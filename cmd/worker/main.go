package main

import (
	"context"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/config"
	"github.com/briangreenhill/cropadvisor/internal/jobs"
	"github.com/briangreenhill/cropadvisor/internal/manifest"
	"github.com/briangreenhill/cropadvisor/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if !cfg.HasQueue() {
		logger.Fatal().Msg("REDIS_ADDR is required for the worker")
	}
	if cfg.Store.Driver == config.DriverMemory {
		logger.Fatal().Msg("the worker needs a store shared with the edge; memory is not")
	}

	store, closeStore, err := storage.Open(context.Background(), cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("store error")
	}
	defer closeStore() //nolint:errcheck

	mf, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("manifest error")
	}
	mgr, err := assetcache.New(store, mf, cfg.OriginURL,
		assetcache.WithHTTPClient(&http.Client{Timeout: cfg.Install.FetchTimeout}),
		assetcache.WithLogger(logger),
		assetcache.WithConcurrency(cfg.Install.Concurrency),
		assetcache.WithPruneOnActivate(cfg.Install.PruneOnActivate),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("asset cache error")
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:    1,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueInstall: 10,
			"default":         1,
		},
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskInstallAssets, &jobs.InstallHandler{
		Manager:      mgr,
		ManifestPath: cfg.ManifestPath,
		Log:          logger,
	})

	logger.Info().Str("cache_id", mgr.CacheID()).Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}
