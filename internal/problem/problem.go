// Package problem describes the objective function under study: its
// dimensionality, input bounds and constraint count, together with the
// evaluator capability that produces true output values for input batches.
package problem

import (
	"fmt"
)

// Descriptor is the static description of the objective function.
// It is constructed once per run and never modified afterwards.
type Descriptor struct {
	// DimIn is the number of input dimensions.
	DimIn int
	// DimOut is the number of output columns, objectives first, then
	// constraints.
	DimOut int
	// NConstraints is the number of trailing constraint columns in the
	// output. A constraint value <= 0 is feasible.
	NConstraints int
	// Bounds holds the [lower, upper] range per input dimension.
	Bounds [][2]float64
}

// NewDescriptor validates the dimensional invariants and returns an
// immutable descriptor. Violations are configuration errors.
func NewDescriptor(dimIn, dimOut, nConstraints int, bounds [][2]float64) (*Descriptor, error) {
	if dimIn < 1 {
		return nil, fmt.Errorf("problem: input dimension must be at least 1, got %d", dimIn)
	}
	if dimOut-nConstraints < 1 {
		return nil, fmt.Errorf("problem: need at least one objective, got dim_out=%d with %d constraints",
			dimOut, nConstraints)
	}
	if nConstraints < 0 {
		return nil, fmt.Errorf("problem: constraint count must not be negative, got %d", nConstraints)
	}
	if len(bounds) != dimIn {
		return nil, fmt.Errorf("problem: expected %d bounds, got %d", dimIn, len(bounds))
	}
	for i, b := range bounds {
		if !(b[0] < b[1]) {
			return nil, fmt.Errorf("problem: bounds for dimension %d must satisfy lower < upper, got [%v, %v]",
				i, b[0], b[1])
		}
	}

	d := &Descriptor{
		DimIn:        dimIn,
		DimOut:       dimOut,
		NConstraints: nConstraints,
		Bounds:       make([][2]float64, len(bounds)),
	}
	copy(d.Bounds, bounds)
	return d, nil
}

// NObjectives returns the number of objective columns.
func (d *Descriptor) NObjectives() int {
	return d.DimOut - d.NConstraints
}
