package assetcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// KeyFor builds a stable cache key from a method and URL. Only the path and
// query take part; query parameters are sorted so equivalent URLs collide.
func KeyFor(method string, u *url.URL) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery == "" {
		return m + " " + p
	}
	return m + " " + p + "?" + u.Query().Encode()
}

// KeyForPath is KeyFor for a GET of a manifest path.
func KeyForPath(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse asset path %q: %w", path, err)
	}
	return KeyFor(http.MethodGet, u), nil
}

// FileName maps a cache key onto a name that is safe to use on disk. The
// readable prefix is lossy, so the sha256 of the full key is appended to keep
// distinct keys on distinct files.
func FileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	prefix := fileNameReplacer.Replace(key)
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	return prefix + "-" + hex.EncodeToString(sum[:]) + ".json"
}

var fileNameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"#", "_",
	"&", "_",
	"=", "_",
	" ", "_",
)
