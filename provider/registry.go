package provider

import (
	"github.com/mnehpets/socialauth/oautherr"
)

// Registry is an ordered set of adapters keyed by provider id.
//
// A Registry is populated at startup and only read afterwards; it is not safe
// to call Register concurrently with lookups.
type Registry struct {
	order    []string
	adapters map[string]Adapter
}

// NewRegistry creates a Registry holding the given adapters in order.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Default returns a Registry with every built-in provider.
func Default() *Registry {
	return NewRegistry(
		NewLINE(),
		NewGoogle(),
		NewFacebook(),
		NewGitHub(),
		NewDiscord(),
		NewTwitter(),
	)
}

// Register adds a, replacing any adapter with the same id in place.
func (r *Registry) Register(a Adapter) {
	id := a.Descriptor().ID
	if _, ok := r.adapters[id]; !ok {
		r.order = append(r.order, id)
	}
	r.adapters[id] = a
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	a, ok := r.adapters[id]
	if !ok {
		return Descriptor{}, false
	}
	return a.Descriptor(), true
}

// Adapter returns the adapter for id.
func (r *Registry) Adapter(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// All returns every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id].Descriptor())
	}
	return out
}

// IDs returns every provider id in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// IsValid reports whether id is registered.
func (r *Registry) IsValid(id string) bool {
	_, ok := r.adapters[id]
	return ok
}

// Normalize maps a raw user-info response of provider id to a partial
// Profile. An unregistered id fails with invalid_provider.
func (r *Registry) Normalize(id string, raw []byte) (Profile, error) {
	a, ok := r.adapters[id]
	if !ok {
		return Profile{}, oautherr.Newf(oautherr.InvalidProvider, id, "Provider %q is not supported", id)
	}
	return a.Normalize(raw)
}
