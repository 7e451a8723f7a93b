package solver

import (
	"fmt"
	"math"

	"github.com/daviddao/cndq/pkg/model"
)

// Good is one finished product: how much of each resource a unit
// consumes and what a unit earns.
type Good struct {
	Name    string        `json:"name"`
	Uses    model.Amounts `json:"uses"`
	Revenue float64       `json:"revenue"`
}

// Recipe is the set of goods an actor can produce.
type Recipe []Good

// DefaultRecipe is the two-product mix the simulation ships with.
func DefaultRecipe() Recipe {
	return Recipe{
		{Name: "deicer", Uses: model.Amounts{0.5, 0.3, 0.2, 0}, Revenue: 2},
		{Name: "solvent", Uses: model.Amounts{0, 0.25, 0.35, 0.4}, Revenue: 3},
	}
}

// Validate rejects recipes the solver cannot handle: no goods, duplicate
// names, negative or non-finite coefficients, or a good that consumes
// nothing (which would make the program unbounded).
func (r Recipe) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: recipe has no goods", model.ErrValidation)
	}
	seen := make(map[string]bool, len(r))
	for _, g := range r {
		if g.Name == "" {
			return fmt.Errorf("%w: recipe good without a name", model.ErrValidation)
		}
		if seen[g.Name] {
			return fmt.Errorf("%w: duplicate recipe good %q", model.ErrValidation, g.Name)
		}
		seen[g.Name] = true
		if bad(g.Revenue) {
			return fmt.Errorf("%w: good %q has invalid revenue %v", model.ErrValidation, g.Name, g.Revenue)
		}
		total := 0.0
		for i, u := range g.Uses {
			if bad(u) {
				return fmt.Errorf("%w: good %q has invalid use of %s: %v", model.ErrValidation, g.Name, model.Resources[i], u)
			}
			total += u
		}
		if total == 0 {
			return fmt.Errorf("%w: good %q consumes no resources", model.ErrValidation, g.Name)
		}
	}
	return nil
}

func bad(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}
