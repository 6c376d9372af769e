package datastore

import (
	"maps"
	"slices"
)

// Factory opens or creates a datastore of one flavor.
type Factory func(bodyParts []string, path string) (DataStore, error)

// Registry maps flavor ids to factories. It is built once by the hosting
// application and is read-only afterwards, so it can be shared freely.
type Registry struct {
	factories map[string]Factory
}

// RegistryOption customizes a Registry under construction.
type RegistryOption func(map[string]Factory)

// WithFlavor adds or replaces the factory for flavor.
func WithFlavor(flavor string, f Factory) RegistryOption {
	return func(m map[string]Factory) { m[flavor] = f }
}

// WithoutBuiltins drops the built-in flavors.
func WithoutBuiltins() RegistryOption {
	return func(m map[string]Factory) { clear(m) }
}

// NewRegistry returns a registry holding the built-in flavors plus the
// factories added by opts.
func NewRegistry(opts ...RegistryOption) *Registry {
	m := map[string]Factory{
		FlavorCVKit3D: func(bp []string, path string) (DataStore, error) {
			return NewCVKit3D(bp, path)
		},
		FlavorDeepLabCut: func(bp []string, path string) (DataStore, error) {
			return NewDeepLabCut(bp, path)
		},
		FlavorFlattened: func(bp []string, path string) (DataStore, error) {
			return NewFlattened(bp, path, 3)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return &Registry{factories: m}
}

// DefaultRegistry returns a registry with only the built-in flavors.
func DefaultRegistry() *Registry {
	return NewRegistry()
}

// Open builds a datastore of the given flavor. An unknown flavor yields an
// *UnknownFlavorError listing the registered ids.
func (r *Registry) Open(flavor string, bodyParts []string, path string) (DataStore, error) {
	f, ok := r.factories[flavor]
	if !ok {
		return nil, &UnknownFlavorError{Flavor: flavor, Available: r.Flavors()}
	}
	return f(bodyParts, path)
}

// Flavors lists the registered flavor ids in sorted order.
func (r *Registry) Flavors() []string {
	return slices.Sorted(maps.Keys(r.factories))
}

// Has reports whether flavor is registered.
func (r *Registry) Has(flavor string) bool {
	_, ok := r.factories[flavor]
	return ok
}
