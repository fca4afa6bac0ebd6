// Package manifest describes the fixed set of front-end assets that must be
// available offline, together with the cache identifier they are stored under.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultID is the cache identifier shipped with the bundled front end.
// Bump it whenever any asset changes.
const DefaultID = "sca-v1"

var (
	ErrEmptyID       = errors.New("manifest id is empty")
	ErrNoAssets      = errors.New("manifest has no assets")
	ErrRelativePath  = errors.New("manifest asset is not an absolute path")
	ErrDuplicatePath = errors.New("manifest asset listed twice")
	ErrMissingScript = errors.New("manifest is missing a component script")
)

// ComponentScripts are the view scripts the front end imports from app.js.
// Offline operation breaks if any of them is absent.
var ComponentScripts = []string{
	"/components/CropAdvisor.js",
	"/components/FertilizerAdvisor.js",
	"/components/DiseaseDetector.js",
	"/components/WeatherAlert.js",
	"/components/MarketPrices.js",
}

// Manifest is an ordered set of asset paths stored under one cache identifier.
type Manifest struct {
	ID     string   `yaml:"id" json:"id"`
	Assets []string `yaml:"assets" json:"assets"`
}

// Default returns the manifest of the bundled front end.
func Default() Manifest {
	assets := []string{"/", "/index.html", "/app.js", "/styles.css"}
	assets = append(assets, ComponentScripts...)
	return Manifest{ID: DefaultID, Assets: assets}
}

// Load reads a YAML manifest from path. An empty path yields Default().
func Load(path string) (Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML manifest.
func Parse(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	m.ID = strings.TrimSpace(m.ID)
	for i, a := range m.Assets {
		m.Assets[i] = strings.TrimSpace(a)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks the manifest invariants. It does not require the component
// scripts; use RequireScripts for manifests that back the full front end.
func (m Manifest) Validate() error {
	if m.ID == "" {
		return ErrEmptyID
	}
	if len(m.Assets) == 0 {
		return ErrNoAssets
	}
	seen := make(map[string]struct{}, len(m.Assets))
	for _, a := range m.Assets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("%w: %q", ErrRelativePath, a)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePath, a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

// RequireScripts reports an error if any component script is missing.
func (m Manifest) RequireScripts() error {
	for _, s := range ComponentScripts {
		if !m.Contains(s) {
			return fmt.Errorf("%w: %s", ErrMissingScript, s)
		}
	}
	return nil
}

// Contains reports whether path is listed in the manifest.
func (m Manifest) Contains(path string) bool {
	for _, a := range m.Assets {
		if a == path {
			return true
		}
	}
	return false
}
