package breaker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds one breaker per dependency name. Breakers are created
// lazily on first lookup using per-name overrides or the defaults.
type Registry struct {
	defaults Config

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	overrides map[string]Config
}

// NewRegistry creates a registry whose breakers use defaults unless a
// name is configured explicitly.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults:  defaults,
		breakers:  make(map[string]*Breaker),
		overrides: make(map[string]Config),
	}
}

// Configure sets the configuration for a named breaker. An existing
// breaker with that name is replaced.
func (r *Registry) Configure(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides[name] = cfg
	b := New(name, r.inherit(cfg))
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := r.defaults
	if override, ok := r.overrides[name]; ok {
		cfg = r.inherit(override)
	}
	b = New(name, cfg)
	r.breakers[name] = b
	return b
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}
	return b, nil
}

// Statuses returns a snapshot of every breaker, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(breakers))
	for i, b := range breakers {
		statuses[i] = b.Status()
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// Reset closes the named breaker.
func (r *Registry) Reset(name string) error {
	b, err := r.Lookup(name)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// inherit fills hooks an override left empty from the registry defaults.
func (r *Registry) inherit(cfg Config) Config {
	if cfg.Clock == nil {
		cfg.Clock = r.defaults.Clock
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = r.defaults.IsFailure
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = r.defaults.OnStateChange
	}
	if cfg.Recorder == nil {
		cfg.Recorder = r.defaults.Recorder
	}
	return cfg
}
