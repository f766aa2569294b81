package provider

import (
	"sync"

	"github.com/mohitmishra786/prompt-craft/internal/models"
)

// Registry tracks instantiated providers and which one is active. It is
// constructed once by the host application and passed explicitly; it is not
// package-global state.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.ProviderType]Provider
	order     []models.ProviderType
	active    models.ProviderType
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[models.ProviderType]Provider),
	}
}

// Register inserts the provider, replacing any previous entry for its type.
// Registration order is preserved for fallback selection.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t := p.Type()
	if _, exists := r.providers[t]; !exists {
		r.order = append(r.order, t)
	}
	r.providers[t] = p
}

// Get returns the provider registered for the type, if any.
func (r *Registry) Get(t models.ProviderType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	return p, ok
}

// All returns every registered provider in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(r.order))
	for _, t := range r.order {
		result = append(result, r.providers[t])
	}
	return result
}

// ConfiguredProviders returns the registered providers that report themselves
// configured, in registration order.
func (r *Registry) ConfiguredProviders() []Provider {
	var result []Provider
	for _, p := range r.All() {
		if p.Configured() {
			result = append(result, p)
		}
	}
	return result
}

// SetActive records the active provider. It returns false, without mutating
// anything, when the type is unregistered or its provider is unconfigured.
func (r *Registry) SetActive(t models.ProviderType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[t]
	if !ok || !p.Configured() {
		return false
	}
	r.active = t
	return true
}

// Active returns the active provider. With no valid active selection it
// self-heals: the first configured provider (registration order) is recorded
// as active and returned. False means nothing is configured.
func (r *Registry) Active() (Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != "" {
		if p, ok := r.providers[r.active]; ok && p.Configured() {
			return p, true
		}
		r.active = ""
	}

	for _, t := range r.order {
		if p := r.providers[t]; p.Configured() {
			r.active = t
			return p, true
		}
	}
	return nil, false
}

// ActiveType returns the recorded active type without triggering fallback
// selection.
func (r *Registry) ActiveType() (models.ProviderType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return "", false
	}
	return r.active, true
}

// Clear empties the registry and resets the active pointer. Used only for
// full reinitialization.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[models.ProviderType]Provider)
	r.order = nil
	r.active = ""
}
