package license

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Feature describes a gated capability for display purposes.
type Feature struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Module      string `json:"module" yaml:"module"`
}

// Registry is a caller-populated feature catalog. It never grants access;
// availability comes only from the license record.
type Registry struct {
	mu       sync.RWMutex
	features map[string]Feature
}

// NewRegistry creates a registry holding features.
func NewRegistry(features ...Feature) *Registry {
	r := &Registry{features: make(map[string]Feature, len(features))}
	for _, f := range features {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a feature. An empty module is taken from the
// second id segment, so pro.squads.premium belongs to squads.
func (r *Registry) Register(f Feature) {
	if f.ID == "" {
		return
	}
	if f.Module == "" {
		f.Module = moduleOf(f.ID)
	}
	r.mu.Lock()
	r.features[f.ID] = f
	r.mu.Unlock()
}

// Get returns the feature registered under id.
func (r *Registry) Get(id string) (Feature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.features[id]
	return f, ok
}

// Name returns the friendly name for id, or id itself when unknown.
func (r *Registry) Name(id string) string {
	if f, ok := r.Get(id); ok && f.Name != "" {
		return f.Name
	}
	return id
}

// All returns every feature sorted by id.
func (r *Registry) All() []Feature {
	r.mu.RLock()
	out := make([]Feature, 0, len(r.features))
	for _, f := range r.features {
		out = append(out, f)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered features.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.features)
}

type registryFile struct {
	Features []Feature `yaml:"features"`
}

// LoadRegistry reads a YAML catalog of the form `features: [{id, name, description, module}]`.
func LoadRegistry(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature catalog: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feature catalog: %w", err)
	}
	for i, f := range file.Features {
		if strings.TrimSpace(f.ID) == "" {
			return nil, fmt.Errorf("feature %d has no id", i)
		}
	}
	return NewRegistry(file.Features...), nil
}

// LoadRegistryFile reads a YAML catalog from path.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature catalog: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

func moduleOf(id string) string {
	parts := strings.Split(id, ".")
	if len(parts) >= 3 {
		return parts[1]
	}
	if len(parts) == 2 {
		return parts[0]
	}
	return id
}
