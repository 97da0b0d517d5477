package preset

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"pagecap-go/domain/capture"
)

// ErrUnknownPreset is returned when a requested preset is not registered.
var ErrUnknownPreset = errors.New("unknown preset")

// Registry manages preset definitions and provides lookup functionality.
type Registry struct {
	presets map[string]*Preset
	mu      sync.RWMutex
}

// NewRegistry creates a new empty preset registry.
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[string]*Preset),
	}
}

// Register adds a preset to the registry.
// If a preset with the same name exists, it will be replaced.
func (r *Registry) Register(p *Preset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.Name] = p
}

// Get retrieves a preset by name.
// Returns nil if not found.
func (r *Registry) Get(name string) *Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presets[name]
}

// List returns all registered preset names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered presets sorted by name.
func (r *Registry) All() []*Preset {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()
	presets := make([]*Preset, 0, len(names))
	for _, name := range names {
		if p, ok := r.presets[name]; ok {
			presets = append(presets, p)
		}
	}
	return presets
}

// Count returns the number of registered presets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presets)
}

// Resolve applies the named preset to p. An empty name is a no-op.
func (r *Registry) Resolve(name string, p *capture.Params) error {
	if name == "" {
		return nil
	}
	ps := r.Get(name)
	if ps == nil {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	ps.Apply(p)
	return nil
}
