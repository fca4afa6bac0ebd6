// Package advisory is a client for the Smart Crop Advisory HTTP API.
// Responses are returned as raw JSON since the backend's shapes are not
// fixed.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const DefaultBaseURL = "http://localhost:8000"

// Defaults the backend applies when a field is omitted.
const (
	DefaultRainfall = 100.0
	DefaultSoilType = "loam"
)

// ErrEmptyFile is returned by DetectDisease when no image bytes were given.
var ErrEmptyFile = errors.New("image file is empty")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Body)
}

// SoilInput is the measurement set shared by crop and fertilizer requests.
// A nil Rainfall or empty SoilType is filled with the backend defaults.
type SoilInput struct {
	N        float64  `json:"N"`
	P        float64  `json:"P"`
	K        float64  `json:"K"`
	PH       float64  `json:"ph"`
	Rainfall *float64 `json:"rainfall,omitempty"`
	SoilType string   `json:"soil_type,omitempty"`
	Location string   `json:"location,omitempty"`
}

func (s SoilInput) withDefaults() SoilInput {
	if s.Rainfall == nil {
		r := DefaultRainfall
		s.Rainfall = &r
	}
	if s.SoilType == "" {
		s.SoilType = DefaultSoilType
	}
	return s
}

// FertilizerInput asks for a fertilizer plan for one crop.
type FertilizerInput struct {
	SoilInput
	Crop string `json:"crop"`
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			c.baseURL = u
		}
	}
}

// WithClientCredentials authenticates every request with an OAuth2
// client-credentials token. It wraps whatever HTTP client is configured
// before it, so order it after WithHTTPClient.
func WithClientCredentials(ctx context.Context, cfg clientcredentials.Config) Option {
	return func(c *Client) {
		base := c.http
		if base != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		}
		c.http = cfg.Client(ctx)
	}
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    http.DefaultClient,
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL reports the API base the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// WithBase returns a copy of c pointed at another API base.
func (c *Client) WithBase(raw string) (*Client, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("api base must be an absolute http(s) URL, got %q", raw)
	}
	cp := *c
	cp.baseURL = u
	return &cp, nil
}

// RecommendCrop calls POST /recommend_crop.
func (c *Client) RecommendCrop(ctx context.Context, in SoilInput) (json.RawMessage, error) {
	return c.postJSON(ctx, "/recommend_crop", in.withDefaults())
}

// RecommendFertilizer calls POST /recommend_fertilizer.
func (c *Client) RecommendFertilizer(ctx context.Context, in FertilizerInput) (json.RawMessage, error) {
	if strings.TrimSpace(in.Crop) == "" {
		return nil, errors.New("crop is required")
	}
	in.SoilInput = in.SoilInput.withDefaults()
	return c.postJSON(ctx, "/recommend_fertilizer", in)
}

// DetectDisease uploads an image as multipart field "file" to POST /detect_disease.
func (c *Client) DetectDisease(ctx context.Context, filename string, image io.Reader) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(fw, image)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newReq(ctx, http.MethodPost, "/detect_disease", nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

// Weather calls GET /weather?pincode=.
func (c *Client) Weather(ctx context.Context, pincode string) (json.RawMessage, error) {
	pincode = strings.TrimSpace(pincode)
	if pincode == "" {
		return nil, errors.New("pincode is required")
	}
	req, err := c.newReq(ctx, http.MethodGet, "/weather", map[string]string{"pincode": pincode}, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Market calls GET /market. Empty crop or state are left out of the query.
func (c *Client) Market(ctx context.Context, crop, state string) (json.RawMessage, error) {
	q := map[string]string{}
	if crop = strings.TrimSpace(crop); crop != "" {
		q["crop"] = crop
	}
	if state = strings.TrimSpace(state); state != "" {
		q["state"] = state
	}
	req, err := c.newReq(ctx, http.MethodGet, "/market", q, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, p string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p, err)
	}
	req, err := c.newReq(ctx, http.MethodPost, p, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) newReq(ctx context.Context, method, p string, q map[string]string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, p)
	qq := u.Query()
	for k, v := range q {
		qq.Set(k, v)
	}
	u.RawQuery = qq.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method: req.Method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		}
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s %s: response is not JSON", req.Method, req.URL.Path)
	}
	return json.RawMessage(b), nil
}
