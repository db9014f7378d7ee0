package gateway

import (
	"fmt"
	"slices"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

// Registry routes to adapters by name. The primary adapter handles new
// work; the others remain reachable for records created against them.
type Registry[T Named] struct {
	primary T
	byName  map[string]T
}

func NewRegistry[T Named](primary T, others ...T) *Registry[T] {
	r := &Registry[T]{primary: primary, byName: map[string]T{primary.Name(): primary}}
	for _, g := range others {
		r.byName[g.Name()] = g
	}
	return r
}

func (r *Registry[T]) Primary() T { return r.primary }

func (r *Registry[T]) Get(name string) (T, error) {
	g, ok := r.byName[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("gateway %q: %w", name, domain.ErrNotFound)
	}
	return g, nil
}

func (r *Registry[T]) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
