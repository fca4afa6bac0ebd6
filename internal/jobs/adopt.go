package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/cropadvisor/internal/assetcache"
)

// DefaultAdoptInterval is how often the edge checks the shared store for a
// cache committed by the worker.
const DefaultAdoptInterval = 15 * time.Second

// Adopter is the part of the asset cache manager the edge drives after
// handing an install to the worker.
type Adopter interface {
	Restore(ctx context.Context) (bool, error)
	Activate(ctx context.Context) error
}

// AdoptInstall polls the shared store every interval until the worker has
// committed the cache, then activates it. It reports whether the cache was
// adopted before ctx ended.
func AdoptInstall(ctx context.Context, a Adopter, every time.Duration, log zerolog.Logger) bool {
	if every <= 0 {
		every = DefaultAdoptInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		ok, err := a.Restore(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("restore poll")
			continue
		}
		if !ok {
			continue
		}
		if err := a.Activate(ctx); err != nil {
			log.Error().Err(err).Msg("activate worker install")
			continue
		}
		log.Info().Msg("adopted worker install")
		return true
	}
}

var _ Adopter = (*assetcache.Manager)(nil)
