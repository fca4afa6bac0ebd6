package assetcache

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		method, raw, want string
	}{
		{"GET", "http://origin.test/", "GET /"},
		{"", "http://origin.test", "GET /"},
		{"get", "/app.js", "GET /app.js"},
		{"GET", "/market?state=mh&crop=wheat", "GET /market?crop=wheat&state=mh"},
		{"POST", "/recommend_crop", "POST /recommend_crop"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, KeyFor(tt.method, u), tt.raw)
	}
}

func TestKeyForPath(t *testing.T) {
	k, err := KeyForPath("/components/CropAdvisor.js")
	require.NoError(t, err)
	assert.Equal(t, "GET /components/CropAdvisor.js", k)
}

func TestFileName(t *testing.T) {
	name := FileName("GET /app.js")
	assert.True(t, strings.HasPrefix(name, "GET__app.js-"), name)
	assert.True(t, strings.HasSuffix(name, ".json"), name)
	assert.Equal(t, name, FileName("GET /app.js"))

	tests := []struct {
		name string
		a, b string
	}{
		{"slash and underscore", "GET /css/app.css", "GET /css_app.css"},
		{"query separators", "GET /market?crop=wheat", "GET /market_crop_wheat"},
		{"long shared prefix", "GET /" + strings.Repeat("x", 300) + "a", "GET /" + strings.Repeat("x", 300) + "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, FileName(tt.a), FileName(tt.b))
		})
	}

	long := FileName("GET /" + strings.Repeat("x", 300))
	assert.Less(t, len(long), 255)
}
