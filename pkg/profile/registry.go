package profile

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the currently loaded profiles, keyed by profile name
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]*Profile)}
}

// Get returns the named profile
func (r *Registry) Get(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %s not found", name)
	}
	return p, nil
}

// List returns the loaded profile names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put installs or replaces a profile
func (r *Registry) Put(p *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Remove drops a profile by name
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, name)
}

// Replace swaps the full profile set atomically
func (r *Registry) Replace(profiles map[string]*Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = profiles
}
