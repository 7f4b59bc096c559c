// Package registry implements the Strategy selection component of spec
// §4.6: given a pipeline section ("deploy", "boot", "test", ...), a device
// descriptor and the job parameters for that section, pick the single best
// Strategy to construct an Action. lava_dispatcher answers this question by
// walking every loaded Action subclass at runtime and asking each one
// "accepts(device, parameters)"; the REDESIGN FLAG in spec §9 replaces that
// with an explicit, pre-populated registry keyed by section, which is what
// this package provides.
package registry

import (
	"fmt"
	"sort"

	"github.com/duttest/dispatcher/internal/pipeline"
)

// Strategy is a candidate implementation for one pipeline section. Several
// strategies may be registered for the same section (e.g. two different
// boot methods); Select picks the one with the highest Priority whose
// Accepts predicate is satisfied.
type Strategy interface {
	// Section is the action_type this strategy belongs to, e.g. "deploy".
	Section() string
	// Priority breaks ties between strategies that both Accept the same
	// device/params pair; lava_dispatcher calls this "compatibility".
	Priority() int
	// Accepts is a pure predicate: it must not mutate device or params.
	Accepts(device map[string]any, params map[string]any) bool
	// New constructs a fresh Action instance. Called once per selection,
	// since an Action carries per-run state (results, elapsed time, errors).
	New() pipeline.Action
}

// Registry holds every known Strategy, grouped by section.
type Registry struct {
	bySection map[string][]Strategy
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{bySection: make(map[string][]Strategy)}
}

// Register adds s to the registry under its own Section(). Registration
// order does not matter; Select sorts by Priority at selection time.
func (r *Registry) Register(s Strategy) {
	r.bySection[s.Section()] = append(r.bySection[s.Section()], s)
}

// ErrNoMatch reports that no registered strategy for a section accepted the
// given device and parameters.
type ErrNoMatch struct {
	Section string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("no strategy registered for section %q accepts this device/parameters", e.Section)
}

// Select returns a freshly constructed Action for section, chosen as the
// highest-priority registered Strategy whose Accepts predicate matches
// device and params. Ties are broken by registration order (stable sort).
func (r *Registry) Select(section string, device map[string]any, params map[string]any) (pipeline.Action, error) {
	candidates := r.bySection[section]
	if len(candidates) == 0 {
		return nil, &ErrNoMatch{Section: section}
	}

	matches := make([]Strategy, 0, len(candidates))
	for _, s := range candidates {
		if s.Accepts(device, params) {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return nil, &ErrNoMatch{Section: section}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})
	return matches[0].New(), nil
}

// Sections returns every section with at least one registered strategy, for
// use by a "describe" or "validate" command that wants to enumerate what a
// dispatcher instance can do.
func (r *Registry) Sections() []string {
	out := make([]string, 0, len(r.bySection))
	for section := range r.bySection {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}
