package step

import (
	"fmt"
	"strings"
)

// SelectAll is the selection sentinel meaning "every step that is
// included by default". It is only recognized as the entire selection
// string: "all,download" treats "all" as a (nonexistent) step name.
const SelectAll = "all"

// UnknownStepError reports a selection naming a step that is not
// registered.
type UnknownStepError struct {
	Name  string
	Known []string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step %q (valid: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Resolve expands a selection string into steps in execution order.
//
// The selection is either the SelectAll sentinel or a comma-separated
// list of step names. Names are trimmed of surrounding whitespace;
// empty entries are dropped; duplicates collapse to one run. The result
// always follows registration order regardless of how the selection
// spells it. A selection that resolves to no steps is valid and returns
// an empty slice.
func (r *Registry) Resolve(selection string) ([]Step, error) {
	selection = strings.TrimSpace(selection)

	if selection == SelectAll {
		var out []Step
		for _, s := range r.ordered {
			if s.IncludedByDefault {
				out = append(out, s)
			}
		}
		return out, nil
	}

	wanted := make(map[string]bool)
	for _, name := range strings.Split(selection, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.byName[name]; !ok {
			return nil, &UnknownStepError{Name: name, Known: r.Names()}
		}
		wanted[name] = true
	}

	var out []Step
	for _, s := range r.ordered {
		if wanted[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}
