package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vjranagit/perfmon/pkg/types"
)

var (
	// ErrNotFound is returned for unknown templates and fields
	ErrNotFound = fmt.Errorf("not found: %w", types.ErrBadRequest)

	// ErrMethodNotAllowed is returned when a field does not permit the
	// requested aggregation method
	ErrMethodNotAllowed = fmt.Errorf("method not allowed: %w", types.ErrBadRequest)

	// ErrDuplicateTemplate is returned when a template name is taken
	ErrDuplicateTemplate = errors.New("duplicate template")
)

// Registry maps template names to templates. It is safe for concurrent
// use; templates may be registered while queries resolve.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// New creates a registry holding templates
func New(templates ...Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a template after validating it
func (r *Registry) Register(t Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("register template: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// Template looks a template up by name
func (r *Registry) Template(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Templates returns every template sorted by name
func (r *Registry) Templates() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolution is a definition matched against the schema
type Resolution struct {
	Template Template
	// SubCategory is the category with the template segment removed,
	// empty when the category names only the template
	SubCategory string
	Field       FieldSpec
	Method      types.Method
}

// Resolve matches def against the registered templates. The first dot
// segment of the category names the template. An absent method falls back
// to the field's default.
func (r *Registry) Resolve(def types.SeriesDefinition) (Resolution, error) {
	name, sub, _ := strings.Cut(def.Category, ".")

	t, ok := r.Template(name)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: template %q for category %q", ErrNotFound, name, def.Category)
	}

	field, ok := t.Field(def.Field)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: field %q on template %q", ErrNotFound, def.Field, t.Name)
	}

	method := field.Default
	if def.Method != nil {
		method = *def.Method
		if !field.Allows(method) {
			return Resolution{}, fmt.Errorf("%w: method %s for field %q on template %q", ErrMethodNotAllowed, method, field.Name, t.Name)
		}
	}

	return Resolution{
		Template:    t,
		SubCategory: sub,
		Field:       field,
		Method:      method,
	}, nil
}
