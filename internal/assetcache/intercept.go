package assetcache

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/hlog"
)

// hop-by-hop headers are meaningful for a single connection only.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Intercept answers req from the cache when it can and from the network
// otherwise. Cache misses are not written back: only the manifest is ever
// cached. A network failure on a miss is returned unchanged unless an
// offline fallback is configured.
func (m *Manager) Intercept(req *http.Request) (*http.Response, error) {
	if resp, ok := m.lookup(req); ok {
		return resp, nil
	}

	resp, err := m.forward(req)
	if err != nil {
		if fb, ok := m.fallbackResponse(req); ok {
			m.log.Warn().Err(err).Str("url", req.URL.String()).Msg("network failed; serving offline fallback")
			return fb, nil
		}
		return nil, err
	}
	return resp, nil
}

// RoundTrip lets a Manager sit under an http.Client as its Transport.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Intercept(req)
}

// ServeHTTP lets a Manager front the origin as a cache-first proxy.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := m.Intercept(r)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("path", r.URL.Path).Msg("origin unreachable")
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.Header.Get(HeaderFromCache) != "" && etagMatches(r, resp.Header.Get("ETag")) {
		w.Header().Set("ETag", resp.Header.Get("ETag"))
		w.Header().Set(HeaderFromCache, "1")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("copy response body")
	}
}

func (m *Manager) lookup(req *http.Request) (*http.Response, bool) {
	if req.Method != http.MethodGet || !m.inScope(req.URL) || !m.Serving() {
		return nil, false
	}

	e, ok, err := m.store.Get(req.Context(), m.manifest.ID, KeyFor(req.Method, req.URL))
	if err != nil {
		// A broken store must not take the network path down with it.
		m.log.Warn().Err(err).Str("url", req.URL.String()).Msg("cache lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return e.Response(req), true
}

func (m *Manager) fallbackResponse(req *http.Request) (*http.Response, bool) {
	if m.fallback == "" || req.Method != http.MethodGet || !m.inScope(req.URL) || !m.Serving() {
		return nil, false
	}
	key, err := KeyForPath(m.fallback)
	if err != nil {
		return nil, false
	}
	e, ok, err := m.store.Get(req.Context(), m.manifest.ID, key)
	if err != nil || !ok {
		return nil, false
	}
	e.Status = http.StatusServiceUnavailable
	resp := e.Response(req)
	resp.Header.Set(HeaderOfflineFallback, "1")
	return resp, true
}

// inScope reports whether u targets the origin. Relative URLs, as seen by
// ServeHTTP, always do.
func (m *Manager) inScope(u *url.URL) bool {
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Host, m.origin.Host) &&
		(u.Scheme == "" || strings.EqualFold(u.Scheme, m.origin.Scheme))
}

func (m *Manager) forward(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	if out.URL.Host == "" {
		out.URL = m.origin.ResolveReference(&url.URL{
			Path:     req.URL.Path,
			RawPath:  req.URL.RawPath,
			RawQuery: req.URL.RawQuery,
		})
		out.Host = ""
	}
	for _, k := range hopHeaders {
		out.Header.Del(k)
	}
	return m.client.Do(out)
}

func etagMatches(r *http.Request, etag string) bool {
	if etag == "" {
		return false
	}
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		c := strings.TrimSpace(candidate)
		if c == etag || c == "*" {
			return true
		}
	}
	return false
}
