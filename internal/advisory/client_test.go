package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"
)

func TestRecommendCropAppliesDefaults(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/recommend_crop", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"crop":"rice"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	out, err := c.RecommendCrop(context.Background(), SoilInput{N: 90, P: 42, K: 43, PH: 6.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"crop":"rice"}`, string(out))

	assert.Equal(t, 90.0, got["N"])
	assert.Equal(t, 6.5, got["ph"])
	assert.Equal(t, DefaultRainfall, got["rainfall"])
	assert.Equal(t, DefaultSoilType, got["soil_type"])
}

func TestRecommendCropKeepsExplicitRainfall(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	zero := 0.0
	_, err := New(WithBaseURL(srv.URL)).RecommendCrop(context.Background(), SoilInput{Rainfall: &zero, SoilType: "clay"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got["rainfall"])
	assert.Equal(t, "clay", got["soil_type"])
}

func TestRecommendFertilizer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recommend_fertilizer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"crop":"wheat","npk":"120:60:40"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := c.RecommendFertilizer(context.Background(), FertilizerInput{Crop: "wheat", SoilInput: SoilInput{N: 1}})
	require.NoError(t, err)
	assert.Equal(t, "wheat", got["crop"])
	assert.Equal(t, 1.0, got["N"])
	assert.Equal(t, DefaultSoilType, got["soil_type"])

	_, err = c.RecommendFertilizer(context.Background(), FertilizerInput{})
	assert.Error(t, err)
}

func TestDetectDiseaseSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect_disease", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "leaf.jpg", hdr.Filename)
		assert.Equal(t, "jpegbytes", string(b))
		_, _ = w.Write([]byte(`{"disease":"rust"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	out, err := c.DetectDisease(context.Background(), "leaf.jpg", strings.NewReader("jpegbytes"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"disease":"rust"}`, string(out))

	_, err = c.DetectDisease(context.Background(), "leaf.jpg", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestWeatherAndMarketQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":    r.URL.Path,
			"pincode": r.URL.Query().Get("pincode"),
			"crop":    r.URL.Query().Get("crop"),
			"raw":     r.URL.RawQuery,
		})
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	tests := []struct {
		name string
		call func() (json.RawMessage, error)
		want map[string]string
	}{
		{
			name: "weather",
			call: func() (json.RawMessage, error) { return c.Weather(context.Background(), " 390001 ") },
			want: map[string]string{"path": "/weather", "pincode": "390001", "crop": "", "raw": "pincode=390001"},
		},
		{
			name: "market for crop",
			call: func() (json.RawMessage, error) { return c.Market(context.Background(), "wheat", "") },
			want: map[string]string{"path": "/market", "pincode": "", "crop": "wheat", "raw": "crop=wheat"},
		},
		{
			name: "market without crop",
			call: func() (json.RawMessage, error) { return c.Market(context.Background(), "  ", "") },
			want: map[string]string{"path": "/market", "pincode": "", "crop": "", "raw": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.call()
			require.NoError(t, err)
			var got map[string]string
			require.NoError(t, json.Unmarshal(out, &got))
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := c.Weather(context.Background(), "")
	assert.Error(t, err)
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"field required"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).RecommendCrop(context.Background(), SoilInput{})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Body, "field required")
	assert.Contains(t, err.Error(), "422")
}

func TestNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).Market(context.Background(), "", "")
	assert.Error(t, err)
}

func TestWithBase(t *testing.T) {
	c := New()
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	other, err := c.WithBase("https://advisory.example.org/v1")
	require.NoError(t, err)
	assert.Equal(t, "https://advisory.example.org/v1", other.BaseURL())
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	_, err = c.WithBase("ftp://files.example.org")
	assert.Error(t, err)
	_, err = c.WithBase("/relative")
	assert.Error(t, err)
}

func TestBasePathIsPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/market", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL+"/api")).Market(context.Background(), "", "")
	require.NoError(t, err)
}

func TestWithClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/market", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithClientCredentials(context.Background(), clientcredentials.Config{
			ClientID:     "edge",
			ClientSecret: "secret",
			TokenURL:     srv.URL + "/token",
		}),
	)
	_, err := c.Market(context.Background(), "", "")
	require.NoError(t, err)
}
