package scenario

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrScenarioExists  = errors.New("scenario already exists")
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Registry stores scenarios by name and keeps their registration order,
// which is also the order a suite runs in.
type Registry struct {
	items map[string]Scenario
	order []string
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Scenario)}
}

// Register adds a scenario to the registry.
func (r *Registry) Register(s Scenario) error {
	name := strings.TrimSpace(s.Name)
	if name == "" || s.Run == nil {
		return fmt.Errorf("%w: name and run are required", ErrInvalidScenario)
	}
	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidScenario, name)
	}
	key := strings.ToLower(name)
	if _, ok := r.items[key]; ok {
		return fmt.Errorf("%w: %s", ErrScenarioExists, name)
	}
	s.Name = name
	r.items[key] = s
	r.order = append(r.order, key)
	return nil
}

// Resolve returns a scenario by name, ignoring case.
func (r *Registry) Resolve(name string) (Scenario, bool) {
	s, ok := r.items[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// List returns every scenario in registration order.
func (r *Registry) List() []Scenario {
	out := make([]Scenario, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.items[key])
	}
	return out
}

// Select resolves names in the order given. With no names it returns every
// scenario that is not Explicit.
func (r *Registry) Select(names ...string) ([]Scenario, error) {
	if len(names) == 0 {
		var out []Scenario
		for _, s := range r.List() {
			if !s.Explicit {
				out = append(out, s)
			}
		}
		return out, nil
	}
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		s, ok := r.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
		}
		out = append(out, s)
	}
	return out, nil
}
