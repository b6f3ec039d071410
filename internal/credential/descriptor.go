// Package credential declares credential types, resolves stored credentials and
// applies them to outgoing HTTP requests.
package credential

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"plexflow/internal/types"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*\$credentials\.([A-Za-z0-9_]+)\s*\}\}`)

// Descriptor declares a credential type: its fields, how it authenticates
// requests and how it can be tested.
type Descriptor struct {
	Name             string                    `json:"name"`
	DisplayName      string                    `json:"display_name"`
	DocumentationURL string                    `json:"documentation_url,omitempty"`
	Properties       map[string]types.FieldDef `json:"properties"`
	Authenticate     GenericAuth               `json:"authenticate"`
	Test             TestRequest               `json:"test"`
}

// GenericAuth injects header values rendered from credential fields.
// Templates reference fields as {{ $credentials.<field> }}.
type GenericAuth struct {
	Headers map[string]string `json:"headers"`
}

// TestRequest is the probe used to check that a credential works.
type TestRequest struct {
	BaseURL string `json:"base_url"`
	URL     string `json:"url"`
	Method  string `json:"method"`
}

// Credential is a resolved credential of a given type.
type Credential struct {
	Name   string
	Type   string
	values map[string]string
}

// NewCredential builds a credential from raw field values.
func NewCredential(name, typ string, values map[string]string) *Credential {
	v := make(map[string]string, len(values))
	for k, val := range values {
		v[k] = val
	}
	return &Credential{Name: name, Type: typ, values: v}
}

// Value returns the raw value of a field.
func (c *Credential) Value(field string) string { return c.values[field] }

// String never includes field values.
func (c *Credential) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Type)
}

// headers renders the descriptor's authentication headers for c.
func (d *Descriptor) headers(c *Credential) (map[string]string, error) {
	out := make(map[string]string, len(d.Authenticate.Headers))
	for name, tmpl := range d.Authenticate.Headers {
		var missing string
		rendered := placeholderRegex.ReplaceAllStringFunc(tmpl, func(m string) string {
			field := placeholderRegex.FindStringSubmatch(m)[1]
			v, ok := c.values[field]
			if !ok {
				missing = field
			}
			return v
		})
		if missing != "" {
			return nil, fmt.Errorf("credential %q: header %s references unknown field %q", c.Name, name, missing)
		}
		out[name] = rendered
	}
	return out, nil
}

// Registry holds the known credential types.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewRegistry creates an empty credential type registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// Register adds a credential type.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("credential type %q already registered", d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// Get returns a credential type by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[name]
	return d, ok
}

// List returns the registered type names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve reads every field of d for the credential called name from store.
// Required fields must be present and non-empty.
func Resolve(store Store, d *Descriptor, name string) (*Credential, error) {
	values := make(map[string]string, len(d.Properties))
	var missing []string
	for field, def := range d.Properties {
		v, err := store.Lookup(name, field)
		if err != nil && !IsNotFound(err) {
			return nil, fmt.Errorf("credential %q: reading %s: %w", name, field, err)
		}
		if v == "" {
			if def.Required {
				missing = append(missing, field)
				continue
			}
			if s, ok := def.Default.(string); ok {
				v = s
			}
		}
		values[field] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("credential %q (%s): missing required field(s) %s: %w",
			name, d.Name, strings.Join(missing, ", "), ErrNotFound)
	}
	return NewCredential(name, d.Name, values), nil
}
