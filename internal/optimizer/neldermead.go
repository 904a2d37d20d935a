package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/optimize"
)

// NelderMead is a derivative-free multi-start backend for
// single-objective problems. Constraints are handled with a quadratic
// penalty; the returned candidate set holds the best feasible start.
type NelderMead struct{}

func (n *NelderMead) Name() string { return "neldermead" }

const (
	constraintPenalty = 1e6
	// A penalty optimum sits within O(1/penalty) of the boundary, so
	// the feasibility check must tolerate that much violation.
	feasibilityTol = 1e-4
)

func (n *NelderMead) Solve(ctx context.Context, p *Problem, term Termination) (*Result, error) {
	if p.NObjectives != 1 {
		return nil, fmt.Errorf("neldermead: single-objective backend cannot solve %d objectives", p.NObjectives)
	}

	rng := rand.New(rand.NewSource(term.Seed))
	nDims := len(p.Bounds)

	// Scalar objective with bound clamping and constraint penalty.
	objective := func(x []float64) float64 {
		clamped := make([]float64, nDims)
		for i := range x {
			clamped[i] = clamp(x[i], p.Bounds[i])
		}
		outs, err := p.Objective(ctx, [][]float64{clamped})
		if err != nil {
			return math.Inf(1)
		}
		val := outs[0][0]
		for _, g := range outs[0][1 : 1+p.NConstraints] {
			if g > 0 {
				val += constraintPenalty * g * g
			}
		}
		return val
	}

	nStarts := 5 + int(5*math.Sqrt(float64(nDims)))
	starts := make([][]float64, nStarts)
	for i := range starts {
		starts[i] = make([]float64, nDims)
		for j, b := range p.Bounds {
			starts[i][j] = b[0] + rng.Float64()*(b[1]-b[0])
		}
	}

	prob := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
	}

	bestX := make([]float64, nDims)
	bestVal := math.Inf(1)

	for _, start := range starts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		method := &optimize.NelderMead{}
		result, err := optimize.Minimize(prob, start, settings, method)
		if err == nil && result.F < bestVal {
			bestVal = result.F
			copy(bestX, result.X)
		}
	}

	if math.IsInf(bestVal, 1) {
		return nil, nil
	}
	for i := range bestX {
		bestX[i] = clamp(bestX[i], p.Bounds[i])
	}

	// Reject solutions that only exist inside the penalty region.
	outs, err := p.Objective(ctx, [][]float64{bestX})
	if err != nil {
		return nil, err
	}
	for _, g := range outs[0][1 : 1+p.NConstraints] {
		if g > feasibilityTol {
			return nil, nil
		}
	}

	return &Result{
		X: [][]float64{p.ToPhysicalIn(append([]float64(nil), bestX...))},
		F: [][]float64{p.ToPhysicalOut(append([]float64(nil), outs[0]...))[:1]},
	}, nil
}
