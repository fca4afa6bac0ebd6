// Package assetcache keeps the front-end assets of the crop advisory app
// available when the network is not. A Manager installs a fixed manifest of
// assets into a versioned Cache Store and then intercepts requests, serving
// cache-first with network fallback.
package assetcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HeaderFromCache marks responses served from the Cache Store.
const HeaderFromCache = "X-From-Cache"

// HeaderOfflineFallback marks the configured offline placeholder response.
const HeaderOfflineFallback = "X-Offline-Fallback"

// Entry is a stored response keyed by request descriptor.
type Entry struct {
	Key      string      `json:"key"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// ETag returns the validator the origin sent with the entry, if any.
func (e Entry) ETag() string {
	return e.Header.Get("ETag")
}

// Response builds an http.Response replaying the stored entry.
func (e Entry) Response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set(HeaderFromCache, "1")
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))

	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Reader looks up stored responses.
type Reader interface {
	// Get returns the entry stored under key in cacheID.
	// The bool is false when no such entry exists.
	Get(ctx context.Context, cacheID, key string) (Entry, bool, error)
}

// Committer replaces the content of a cache as a unit.
type Committer interface {
	// Commit atomically replaces every entry of cacheID with entries.
	// Readers observe either the previous content or the new one, never a mix.
	Commit(ctx context.Context, cacheID string, entries []Entry) error
}

// Lister enumerates caches and their keys.
type Lister interface {
	Keys(ctx context.Context, cacheID string) ([]string, error)
	Caches(ctx context.Context) ([]string, error)
}

// Store is the persistent Cache Store. Implementations must be safe for
// concurrent readers; writes come from a single installer at a time.
type Store interface {
	Reader
	Committer
	Lister

	// Delete removes a single entry. Missing entries are not an error. Used by
	// scactl evict; the manager itself only commits whole caches.
	Delete(ctx context.Context, cacheID, key string) error

	// Drop removes a cache identifier and all of its entries.
	Drop(ctx context.Context, cacheID string) error
}
