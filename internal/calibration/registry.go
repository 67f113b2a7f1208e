package calibration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
)

// Definition describes a registered objective.
type Definition struct {
	Name        string
	Description string
	Directions  []db.Direction
	// Params are the names of the parameters the objective suggests.
	Params []string
	// New prepares the objective for env, reading reference data once.
	New func(env *Env) (Func, error)
}

// Registry holds objective definitions by name.
type Registry struct {
	mu         sync.RWMutex
	objectives map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{objectives: make(map[string]*Definition)}
}

// DefaultRegistry returns a registry with the built-in objectives.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Definition{
		Name:        "reinfection",
		Description: "mean secondary infections of early infected persons against 2.5",
		Directions:  []db.Direction{db.Minimize},
		Params:      []string{"calibrationParameter"},
		New:         newReinfection,
	})
	r.Register(&Definition{
		Name:        "unconstrained",
		Description: "growth rate of unrestricted runs against a doubling every three days",
		Directions:  []db.Direction{db.Minimize},
		Params:      []string{"calibrationParameter"},
		New:         newUnconstrained,
	})
	r.Register(&Definition{
		Name:        "ci_correction",
		Description: "case error of a contact intensity correction from the start date",
		Directions:  []db.Direction{db.Minimize},
		Params:      []string{"ciOffset", "ciCorrection"},
		New:         newCICorrection,
	})
	r.Register(&Definition{
		Name:        "multi",
		Description: "case error and hospital error of offset, correction and hospital factor",
		Directions:  []db.Direction{db.Minimize, db.Minimize},
		Params:      []string{"offset", "ciCorrection", "hospital"},
		New:         newMulti,
	})
	r.Register(&Definition{
		Name:        "strain",
		Description: "weekly strain share and incidence error of a strain infectiousness",
		Directions:  []db.Direction{db.Minimize},
		Params:      []string{"infectiousness"},
		New:         newStrain,
	})
	return r
}

// Register adds a definition, replacing one with the same name.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objectives[def.Name] = def
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.objectives[name]
	return def, ok
}

// Lookup is Get returning an error that lists the known names.
func (r *Registry) Lookup(name string) (*Definition, error) {
	if def, ok := r.Get(name); ok {
		return def, nil
	}
	return nil, fmt.Errorf("unknown objective %q, known: %v", name, r.Names())
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.objectives))
	for n := range r.objectives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
