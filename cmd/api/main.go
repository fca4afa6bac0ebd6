// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/briangreenhill/cropadvisor/internal/advisory"
	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/config"
	"github.com/briangreenhill/cropadvisor/internal/dispatch"
	"github.com/briangreenhill/cropadvisor/internal/http/routes"
	"github.com/briangreenhill/cropadvisor/internal/jobs"
	"github.com/briangreenhill/cropadvisor/internal/manifest"
	"github.com/briangreenhill/cropadvisor/internal/storage"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	logger.Info().Str("port", cfg.Port).Str("origin", cfg.OriginURL).Str("store", cfg.Store.Driver).Msg("starting edge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache store
	store, closeStore, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("store error")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	mf, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("manifest error")
	}

	mgr, err := assetcache.New(store, mf, cfg.OriginURL,
		assetcache.WithHTTPClient(&http.Client{Timeout: cfg.Install.FetchTimeout}),
		assetcache.WithLogger(logger),
		assetcache.WithConcurrency(cfg.Install.Concurrency),
		assetcache.WithPruneOnActivate(cfg.Install.PruneOnActivate),
		assetcache.WithOfflineFallback(cfg.Install.OfflineFallback),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("asset cache error")
	}

	// Install queue, if configured
	var queue jobs.Enqueuer
	if cfg.HasQueue() {
		q := jobs.NewAsynqEnqueuer(cfg.RedisAddr)
		defer q.Close() //nolint:errcheck
		queue = q
	}

	restored, err := mgr.Restore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("restore failed")
	}
	switch {
	case restored:
		if err := mgr.Activate(ctx); err != nil {
			logger.Error().Err(err).Msg("activate restored cache")
		}
	case queue != nil:
		if _, err := queue.EnqueueInstall(ctx, jobs.InstallAssetsPayload{CacheID: mgr.CacheID(), ManifestPath: cfg.ManifestPath}); err != nil && !errors.Is(err, jobs.ErrAlreadyQueued) {
			logger.Error().Err(err).Msg("enqueue initial install")
		}
		go jobs.AdoptInstall(ctx, mgr, jobs.DefaultAdoptInterval, logger)
	default:
		go func() {
			if err := mgr.Install(ctx); err != nil {
				logger.Warn().Err(err).Msg("initial install failed; serving from network")
				return
			}
			if err := mgr.Activate(ctx); err != nil {
				logger.Error().Err(err).Msg("activate after install")
			}
		}()
	}

	// Advisory API
	apiOpts := []advisory.Option{
		advisory.WithBaseURL(cfg.Advisory.BaseURL),
		advisory.WithHTTPClient(&http.Client{Timeout: 20 * time.Second}),
	}
	if cfg.HasAdvisoryAuth() {
		apiOpts = append(apiOpts, advisory.WithClientCredentials(context.Background(), clientcredentials.Config{
			ClientID:     cfg.Advisory.ClientID,
			ClientSecret: cfg.Advisory.ClientSecret,
			TokenURL:     cfg.Advisory.TokenURL,
		}))
	}

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionLifetime
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:         sess,
		Assets:       mgr,
		Views:        dispatch.Default(),
		API:          advisory.New(apiOpts...),
		Queue:        queue,
		ManifestPath: cfg.ManifestPath,
		BaseContext:  ctx,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sess.LoadAndSave(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("edge stopped")
}
