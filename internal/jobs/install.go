package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
)

// Installer is the part of the asset cache manager the worker drives.
type Installer interface {
	CacheID() string
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
}

// InstallHandler runs TaskInstallAssets against one manager.
type InstallHandler struct {
	Manager      Installer
	ManifestPath string
	Log          zerolog.Logger
}

// ProcessTask implements asynq.Handler. An install failure is returned so the
// queue retries it. Tasks this worker can never satisfy are not retried.
func (h *InstallHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p InstallAssetsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Log.Error().Err(err).Msg("bad install payload")
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.CacheID != h.Manager.CacheID() {
		h.Log.Warn().Str("want", p.CacheID).Str("have", h.Manager.CacheID()).Msg("cache id mismatch; dropping task")
		return fmt.Errorf("worker installs %s, task wants %s: %w", h.Manager.CacheID(), p.CacheID, asynq.SkipRetry)
	}
	if p.ManifestPath != "" && p.ManifestPath != h.ManifestPath {
		h.Log.Warn().Str("want", p.ManifestPath).Str("have", h.ManifestPath).Msg("manifest mismatch; dropping task")
		return fmt.Errorf("worker manifest %q, task wants %q: %w", h.ManifestPath, p.ManifestPath, asynq.SkipRetry)
	}

	log := h.Log.With().Str("cache_id", p.CacheID).Str("run_id", p.RunID).Logger()
	log.Info().Msg("install start")
	start := time.Now()

	if err := h.Manager.Install(ctx); err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("install failed; will retry")
		return err
	}
	if err := h.Manager.Activate(ctx); err != nil {
		log.Warn().Err(err).Msg("activate failed; will retry")
		return err
	}
	log.Info().Dur("duration", time.Since(start)).Msg("install done")
	return nil
}

var _ Installer = (*assetcache.Manager)(nil)
