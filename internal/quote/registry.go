package quote

import (
	"fmt"
	"strings"
)

// Registry maps provider names and symbol namespaces to sources. It is
// ordinary immutable configuration built once at startup; dispatch never
// mutates it.
type Registry struct {
	byName      map[string]Source
	byNamespace map[string]string // namespace -> provider name
}

func NewRegistry() *Registry {
	return &Registry{
		byName:      map[string]Source{},
		byNamespace: map[string]string{},
	}
}

// Register adds a source under its lower-cased name and claims the given
// symbol namespaces for it.
func (r *Registry) Register(src Source, namespaces ...string) {
	name := strings.ToLower(src.Name())
	r.byName[name] = src
	for _, ns := range namespaces {
		r.byNamespace[strings.ToLower(ns)] = name
	}
}

// ByName looks up a source by provider name, case-insensitively.
func (r *Registry) ByName(name string) (Source, error) {
	src, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return src, nil
}

// ForNamespace resolves a symbol namespace to the source that claims it.
func (r *Registry) ForNamespace(namespace string) (Source, error) {
	name, ok := r.byNamespace[strings.ToLower(namespace)]
	if !ok {
		return nil, fmt.Errorf("%w: no provider claims namespace %q", ErrUnsupportedProvider, namespace)
	}
	return r.byName[name], nil
}

// Names returns the registered provider names, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
