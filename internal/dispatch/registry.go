// Package dispatch maps UI tabs and voice intents to advisory views
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/briangreenhill/cropadvisor/internal/advisory"
)

// DefaultTab is rendered when no tab is chosen.
const DefaultTab = "crop"

var (
	// ErrUnknownView is returned for a tab nothing is registered under.
	ErrUnknownView = errors.New("unknown view")
	// ErrBadInput marks a form value the view could not use.
	ErrBadInput = errors.New("bad input")
)

// API is the part of the advisory backend views call.
type API interface {
	RecommendCrop(ctx context.Context, in advisory.SoilInput) (json.RawMessage, error)
	RecommendFertilizer(ctx context.Context, in advisory.FertilizerInput) (json.RawMessage, error)
	DetectDisease(ctx context.Context, filename string, image io.Reader) (json.RawMessage, error)
	Weather(ctx context.Context, pincode string) (json.RawMessage, error)
	Market(ctx context.Context, crop, state string) (json.RawMessage, error)
}

// Input is a submitted view form. File is only set for uploads.
type Input struct {
	Form     url.Values
	File     io.Reader
	Filename string
}

// View defines the minimal interface every advisory tab implements
type View interface {
	// Name returns the tab identifier (e.g., "crop", "weather")
	Name() string

	// Title is the heading shown above the view
	Title() string

	// Render submits in to the API and returns the indented JSON answer
	Render(ctx context.Context, api API, in Input) (string, error)
}

// Registry manages available views
type Registry struct {
	views map[string]View
	order []string
}

// NewRegistry creates a new, empty view registry
func NewRegistry() *Registry {
	return &Registry{
		views: make(map[string]View),
	}
}

// Default returns a registry with every built-in tab in display order.
func Default() *Registry {
	r := NewRegistry()
	r.Register(cropView{})
	r.Register(fertilizerView{})
	r.Register(diseaseView{})
	r.Register(weatherView{})
	r.Register(marketView{})
	return r
}

// Register adds a view to the registry, replacing one with the same name
func (r *Registry) Register(view View) {
	if _, exists := r.views[view.Name()]; !exists {
		r.order = append(r.order, view.Name())
	}
	r.views[view.Name()] = view
}

// GetView retrieves a view by tab name
func (r *Registry) GetView(name string) (View, bool) {
	view, exists := r.views[name]
	return view, exists
}

// List returns all registered tab names in registration order
func (r *Registry) List() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Render looks up tab and renders it. An empty tab means DefaultTab.
func (r *Registry) Render(ctx context.Context, tab string, api API, in Input) (string, error) {
	if tab == "" {
		tab = DefaultTab
	}
	view, ok := r.GetView(tab)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownView, tab)
	}
	return view.Render(ctx, api, in)
}

func pretty(raw json.RawMessage, err error) (string, error) {
	if err != nil {
		return "", err
	}
	var out []byte
	out, err = json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(out), nil
}
