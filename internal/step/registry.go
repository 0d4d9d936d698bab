package step

import "fmt"

// Registry holds the pipeline steps in execution order, indexed by name.
// Execution order is fixed at registration time: selections are resolved
// against it, never against the order names appear in a selection string.
type Registry struct {
	ordered []Step
	byName  map[string]int
}

// NewRegistry creates a registry from steps in execution order.
func NewRegistry(steps ...Step) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]int, len(steps)),
	}
	for _, s := range steps {
		if err := r.add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry of the built-in pipeline steps.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults()...)
	if err != nil {
		// The built-in table is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

func (r *Registry) add(s Step) error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if err := s.Source.validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("step %q already registered", s.Name)
	}
	r.byName[s.Name] = len(r.ordered)
	r.ordered = append(r.ordered, s)
	return nil
}

// Get retrieves a step by name.
func (r *Registry) Get(name string) (Step, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Step{}, false
	}
	return r.ordered[i], true
}

// All returns every registered step in execution order.
func (r *Registry) All() []Step {
	out := make([]Step, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns the step names in execution order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.ordered))
	for i, s := range r.ordered {
		out[i] = s.Name
	}
	return out
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.ordered)
}
