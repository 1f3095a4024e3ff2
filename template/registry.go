package template

import (
	"fmt"
	"sync"

	"github.com/hupe1980/dialogmesh/core"
)

// Registry is the thread-safe catalogue of declared action templates.
// Intents resolve to templates by exact name; an intent with no template is
// routed to fallback by the orchestrator.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	order     []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register validates and adds a template. Duplicate names are a
// configuration error.
func (r *Registry) Register(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.Name]; exists {
		return &core.ConfigurationError{
			Component: "template",
			Message:   fmt.Sprintf("action '%s' registered twice", t.Name),
		}
	}
	r.templates[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers a template and panics on configuration errors.
// Intended for static wiring at startup.
func (r *Registry) MustRegister(t *Template) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the template for an action name.
func (r *Registry) Get(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Names returns all registered action names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
