// Package composition is the lookup side of the composition catalog: which
// composition ids exist and what default dimensions they declare. Discovery
// and validation of the compositions themselves belong to the render project.
package composition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/rendergw/internal/config"
)

// Info describes a composition's default render dimensions.
type Info struct {
	ID               string `yaml:"id" json:"id"`
	Width            int    `yaml:"width" json:"width"`
	Height           int    `yaml:"height" json:"height"`
	FPS              int    `yaml:"fps" json:"fps"`
	DurationInFrames int    `yaml:"duration_in_frames" json:"durationInFrames"`
	Description      string `yaml:"description,omitempty" json:"description,omitempty"`

	// Path is the manifest file the composition came from, if any.
	Path string `yaml:"-" json:"-"`
}

// Lookup is what the job registry needs from the composition catalog.
type Lookup interface {
	Exists(id string) bool
	Info(id string) (*Info, bool)
}

// Registry holds known compositions indexed by id.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Info
}

var _ Lookup = (*Registry)(nil)

// NewRegistry creates an empty composition registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Info)}
}

// FromConfig builds a registry from inline config entries.
func FromConfig(entries map[string]config.CompositionConf) *Registry {
	r := NewRegistry()
	for id, c := range entries {
		_ = r.Add(&Info{
			ID:               id,
			Width:            c.Width,
			Height:           c.Height,
			FPS:              c.FPS,
			DurationInFrames: c.DurationInFrames,
			Description:      c.Description,
		})
	}
	return r
}

// Add registers a composition. Ids are unique.
func (r *Registry) Add(info *Info) error {
	if info == nil || info.ID == "" {
		return fmt.Errorf("composition id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[info.ID]; exists {
		return fmt.Errorf("composition %q already registered", info.ID)
	}
	r.items[info.ID] = info
	return nil
}

// Exists reports whether id is a known composition.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// Info returns a copy of the composition's defaults.
func (r *Registry) Info(id string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.items[id]
	if !ok {
		return nil, false
	}
	cp := *info
	return &cp, true
}

// All returns every composition sorted by id.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.items))
	for _, info := range r.items {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered compositions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
