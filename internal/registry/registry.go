// Package registry implements a category/name service locator: an
// ordered insertion list per category plus an optional explicit
// default, used to look up LLM providers, notification channels, and
// similar named collaborators without a global variable per kind.
package registry

import (
	"fmt"
	"sync"
)

// ErrProviderNotFound is returned when a category is empty or a name
// is unknown within it.
type ErrProviderNotFound struct {
	Category string
	Name     string
}

func (e *ErrProviderNotFound) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("registry: category %q is empty", e.Category)
	}
	return fmt.Sprintf("registry: no provider %q in category %q", e.Name, e.Category)
}

type entry struct {
	name     string
	provider any
}

type category struct {
	entries []entry
	def     string
	hasDef  bool
}

// Registry holds named providers grouped into categories.
type Registry struct {
	mu         sync.RWMutex
	categories map[string]*category
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{categories: make(map[string]*category)}
}

// Register adds provider under (category, name). Re-registering an
// existing (category, name) pair replaces the provider in place
// without reordering the insertion list.
func (r *Registry) Register(cat, name string, provider any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.categories[cat]
	if !ok {
		c = &category{}
		r.categories[cat] = c
	}
	for i := range c.entries {
		if c.entries[i].name == name {
			c.entries[i].provider = provider
			return
		}
	}
	c.entries = append(c.entries, entry{name: name, provider: provider})
}

// SetDefault marks name as the explicit default for cat. name need not
// already be registered; Get still fails if it never is.
func (r *Registry) SetDefault(cat, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.categories[cat]
	if !ok {
		c = &category{}
		r.categories[cat] = c
	}
	c.def = name
	c.hasDef = true
}

// Get returns the named entry in cat. If name is empty, it returns the
// explicit default if one was set, else the first inserted entry.
func (r *Registry) Get(cat, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.categories[cat]
	if !ok || len(c.entries) == 0 {
		return nil, &ErrProviderNotFound{Category: cat}
	}

	if name == "" {
		if c.hasDef {
			name = c.def
		} else {
			return c.entries[0].provider, nil
		}
	}

	for _, e := range c.entries {
		if e.name == name {
			return e.provider, nil
		}
	}
	return nil, &ErrProviderNotFound{Category: cat, Name: name}
}

// Names returns the registered names in cat, in insertion order.
func (r *Registry) Names(cat string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.categories[cat]
	if !ok {
		return nil
	}
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}
