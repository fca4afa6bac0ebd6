package middleware

import (
	"context"
	"net/http"
)

type contextKey string

// APIBaseKey holds the advisory API base chosen for the current session.
const APIBaseKey contextKey = "api_base"

// WithAPIBase returns a copy of ctx carrying base.
func WithAPIBase(ctx context.Context, base string) context.Context {
	return context.WithValue(ctx, APIBaseKey, base)
}

// APIBase returns the session's advisory API base, if one was set.
func APIBase(ctx context.Context) (string, bool) {
	base, ok := ctx.Value(APIBaseKey).(string)
	return base, ok && base != ""
}

// NoStore marks responses as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
