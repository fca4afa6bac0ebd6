package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/cropadvisor/internal/manifest"
)

const defaultConcurrency = 4

// FetchError reports a manifest asset that could not be fetched during install.
type FetchError struct {
	Path   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.Path, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Status is a point-in-time view of a Manager.
type Status struct {
	CacheID   string    `json:"cache_id"`
	State     State     `json:"state"`
	Serving   bool      `json:"serving"`
	Installs  int       `json:"installs"`
	LastError string    `json:"last_error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Manager owns one versioned cache: it installs the manifest into the Store
// and intercepts requests, answering from the cache before the network.
type Manager struct {
	store       Store
	manifest    manifest.Manifest
	origin      *url.URL
	client      *http.Client
	log         zerolog.Logger
	concurrency int
	prune       bool
	fallback    string
	now         func() time.Time

	// lifecycleMu serialises Install, Activate, Restore and Retire.
	lifecycleMu sync.Mutex

	mu        sync.RWMutex
	state     State
	installs  int
	lastErr   error
	changedAt time.Time

	// serving is set by the first committed install or restore and cleared
	// only by retiring the cache. A running re-install leaves it alone.
	serving bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used to reach the origin. It must not route
// back through the Manager itself.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithConcurrency bounds the number of parallel asset fetches during install.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithPruneOnActivate controls whether Activate drops every other cache
// identifier found in the store. Enabled by default.
func WithPruneOnActivate(prune bool) Option {
	return func(m *Manager) { m.prune = prune }
}

// WithOfflineFallback names a manifest path whose cached response is served,
// with status 503, when a request misses the cache and the network fails.
func WithOfflineFallback(path string) Option {
	return func(m *Manager) { m.fallback = path }
}

// New returns a Manager for the manifest, fetching assets from origin.
func New(store Store, mf manifest.Manifest, origin string, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := mf.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}

	m := &Manager{
		store:       store,
		manifest:    mf,
		origin:      u,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         zerolog.Nop(),
		concurrency: defaultConcurrency,
		prune:       true,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.fallback != "" && !mf.Contains(m.fallback) {
		return nil, fmt.Errorf("offline fallback %q is not in the manifest", m.fallback)
	}
	m.changedAt = m.now()
	return m, nil
}

// CacheID returns the identifier the manager installs under.
func (m *Manager) CacheID() string { return m.manifest.ID }

// Manifest returns the manifest the manager installs.
func (m *Manager) Manifest() manifest.Manifest { return m.manifest }

// Store returns the underlying Cache Store.
func (m *Manager) Store() Store { return m.store }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot for diagnostics.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		CacheID:   m.manifest.ID,
		State:     m.state,
		Serving:   m.serving,
		Installs:  m.installs,
		ChangedAt: m.changedAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Serving reports whether lookups are answered from a committed cache. It
// stays true while a re-install is in flight.
func (m *Manager) Serving() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serving
}

func (m *Manager) setServing(v bool) {
	m.mu.Lock()
	m.serving = v
	m.mu.Unlock()
}

func (m *Manager) setState(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkTransition(m.state, to); err != nil {
		return err
	}
	m.log.Debug().Str("cache_id", m.manifest.ID).Stringer("from", m.state).Stringer("to", to).Msg("lifecycle transition")
	m.state = to
	m.changedAt = m.now()
	return nil
}

// Install fetches every manifest asset from the origin and commits them to
// the store as one unit. If any fetch fails nothing is committed and the
// manager returns to the state it was in before the call. Install does not
// retry; callers decide whether to try again.
func (m *Manager) Install(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	prev := m.State()
	if err := m.setState(StateInstalling); err != nil {
		return err
	}

	id := m.manifest.ID
	log := m.log.With().Str("cache_id", id).Str("run_id", uuid.NewString()).Logger()
	log.Info().Int("assets", len(m.manifest.Assets)).Msg("install started")
	start := time.Now()

	entries, err := m.fetchAll(ctx)
	if err == nil {
		if cerr := m.store.Commit(ctx, id, entries); cerr != nil {
			err = fmt.Errorf("commit cache: %w", cerr)
		}
	}

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.installs++
		m.serving = true
	}
	m.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("install failed")
		if rerr := m.setState(prev); rerr != nil {
			return errors.Join(fmt.Errorf("install %s: %w", id, err), rerr)
		}
		return fmt.Errorf("install %s: %w", id, err)
	}

	log.Info().Int("assets", len(entries)).Dur("duration", time.Since(start)).Msg("install complete")
	return m.setState(StateInstalled)
}

func (m *Manager) fetchAll(ctx context.Context) ([]Entry, error) {
	assets := m.manifest.Assets
	entries := make([]Entry, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, p := range assets {
		i, p := i, p
		g.Go(func() error {
			e, err := m.fetchAsset(gctx, p)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) fetchAsset(ctx context.Context, p string) (Entry, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return Entry{}, &FetchError{Path: p, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.origin.ResolveReference(ref).String(), nil)
	if err != nil {
		return Entry{}, &FetchError{Path: p, Err: err}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Entry{}, &FetchError{Path: p, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Entry{}, &FetchError{Path: p, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, &FetchError{Path: p, Status: resp.StatusCode, Err: err}
	}

	return Entry{
		Key:      KeyFor(http.MethodGet, ref),
		Method:   http.MethodGet,
		URL:      p,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: m.now().UTC(),
	}, nil
}

// Activate makes an installed cache the active one. With pruning enabled
// every other cache identifier in the store is dropped first.
func (m *Manager) Activate(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.State() == StateActive {
		return nil
	}
	if err := m.setState(StateActivating); err != nil {
		return err
	}

	if m.prune {
		if err := m.pruneStale(ctx); err != nil {
			m.log.Error().Err(err).Str("cache_id", m.manifest.ID).Msg("activate failed")
			return errors.Join(err, m.setState(StateInstalled))
		}
	}
	m.log.Info().Str("cache_id", m.manifest.ID).Msg("cache active")
	return m.setState(StateActive)
}

func (m *Manager) pruneStale(ctx context.Context) error {
	ids, err := m.store.Caches(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, id := range ids {
		if id == m.manifest.ID {
			continue
		}
		if err := m.store.Drop(ctx, id); err != nil {
			return fmt.Errorf("drop stale cache %s: %w", id, err)
		}
		m.log.Info().Str("cache_id", id).Msg("stale cache dropped")
	}
	return nil
}

// Restore adopts a cache that is already complete in the store, e.g. after a
// restart or an install done by another process. It reports whether the
// manager now serves from the cache. Restore never touches the network.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	st := m.State()
	if st.Serving() {
		return true, nil
	}

	keys, err := m.store.Keys(ctx, m.manifest.ID)
	if err != nil {
		return false, fmt.Errorf("list keys: %w", err)
	}
	have := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		have[k] = struct{}{}
	}
	for _, p := range m.manifest.Assets {
		k, err := KeyForPath(p)
		if err != nil {
			return false, err
		}
		if _, ok := have[k]; !ok {
			return false, nil
		}
	}

	if err := m.setState(StateInstalling); err != nil {
		return false, err
	}
	m.log.Info().Str("cache_id", m.manifest.ID).Msg("restored cache from store")
	if err := m.setState(StateInstalled); err != nil {
		return false, err
	}
	m.setServing(true)
	return true, nil
}

// Retire drops cacheID from the store. Retiring the manager's own identifier
// stops it from serving cached responses until the next install.
func (m *Manager) Retire(ctx context.Context, cacheID string) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if err := m.store.Drop(ctx, cacheID); err != nil {
		return fmt.Errorf("drop cache %s: %w", cacheID, err)
	}
	m.log.Info().Str("cache_id", cacheID).Msg("cache retired")
	if cacheID != m.manifest.ID {
		return nil
	}
	m.setServing(false)
	if st := m.State(); st == StateInstalled || st == StateActive {
		return m.setState(StateRetired)
	}
	return nil
}
