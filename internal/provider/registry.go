package provider

import (
	"fmt"
	"sync"
)

// Release is one published version of a provider, with the checksums of
// its distributed content.
type Release struct {
	Version   string
	Checksums []string
}

// Factory constructs a provider instance on first use.
type Factory func() Provider

// Registry manages the set of known providers and their published
// releases. Providers are constructed lazily on first LoadProvider call.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	releases  map[string][]Release
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		releases:  make(map[string][]Release),
		providers: make(map[string]Provider),
	}
}

// Register makes a provider available under name, with its published
// release history (oldest first).
func (r *Registry) Register(name string, releases []Release, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	r.releases[name] = releases
}

// LoadProvider instantiates a registered provider if it is not already
// loaded.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}
	f, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	r.providers[name] = f()
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// Releases returns the published versions of a registered provider,
// oldest first.
func (r *Registry) Releases(name string) []Release {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.releases[name]
}
