package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIBase(t *testing.T) {
	if _, ok := APIBase(context.Background()); ok {
		t.Error("Empty context should have no API base")
	}

	ctx := WithAPIBase(context.Background(), "")
	if _, ok := APIBase(ctx); ok {
		t.Error("Blank API base should not count")
	}

	ctx = WithAPIBase(context.Background(), "https://advisory.example.org")
	base, ok := APIBase(ctx)
	if !ok || base != "https://advisory.example.org" {
		t.Errorf("Expected API base to round-trip, got %q (%v)", base, ok)
	}
}

func TestNoStore(t *testing.T) {
	h := NoStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected wrapped handler to run, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Expected Cache-Control no-store, got %q", got)
	}
}
