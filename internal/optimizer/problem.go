// Package optimizer provides the problem-solver capability: it turns an
// evaluator or a fitted surrogate into an optimization problem and
// solves it with a pluggable backend. An empty result (no feasible
// candidates within budget) is a valid outcome, distinct from an error.
package optimizer

import (
	"context"
	"fmt"

	"github.com/copyleftdev/SAMO/internal/config"
	"github.com/copyleftdev/SAMO/internal/problem"
	"github.com/copyleftdev/SAMO/internal/surrogate"
)

// BatchObjective evaluates a batch of solver-space points to full output
// vectors (objectives first, constraints last).
type BatchObjective func(ctx context.Context, inputs [][]float64) ([][]float64, error)

// Problem is a constructed optimization problem. Bounds and the
// objective are in solver space; the ToPhysical transforms map solver
// vectors back to physical units for reporting.
type Problem struct {
	Objective    BatchObjective
	Bounds       [][2]float64
	NObjectives  int
	NConstraints int

	ToPhysicalIn  func([]float64) []float64
	ToPhysicalOut func([]float64) []float64
}

// Result is one optimizer outcome: the candidate set and its objective
// values, both in physical units.
type Result struct {
	X [][]float64
	F [][]float64
}

// Termination bounds one solve call.
type Termination struct {
	Population  int
	Generations int
	Seed        int64
}

// Backend is the problem-solver capability. Solve returns (nil, nil)
// when no feasible candidate was found within the termination budget.
type Backend interface {
	Name() string
	Solve(ctx context.Context, p *Problem, term Termination) (*Result, error)
}

// NewBackend builds the backend selected by the configuration enum.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Optimization.Algorithm {
	case config.AlgorithmNSGA2:
		return &NSGA2{}, nil
	case config.AlgorithmNelderMead:
		return &NelderMead{}, nil
	default:
		return nil, fmt.Errorf("optimizer: no backend for %q", cfg.Optimization.Algorithm)
	}
}

func identity(x []float64) []float64 { return x }

// BuildDirect constructs the problem in direct mode: the objective is
// the true evaluator, bounds come from the problem descriptor and no
// normalization is applied.
func BuildDirect(eval problem.Evaluator, desc *problem.Descriptor, constrained bool) *Problem {
	nConst := 0
	if constrained {
		nConst = desc.NConstraints
	}
	return &Problem{
		Objective: func(ctx context.Context, inputs [][]float64) ([][]float64, error) {
			return eval.Evaluate(ctx, inputs)
		},
		Bounds:        cloneBounds(desc.Bounds),
		NObjectives:   desc.NObjectives(),
		NConstraints:  nConst,
		ToPhysicalIn:  identity,
		ToPhysicalOut: identity,
	}
}

// BuildSurrogate constructs the problem in surrogate mode: the search
// runs in the surrogate's normalized [-1, 1] input space, while the
// objective denormalizes predictions so outputs are physical. Constraint
// feasibility (g <= 0) only means anything in physical units; the output
// normalization maps g = 0 to the mid-range of observed constraint
// values, so backends must never see normalized outputs.
func BuildSurrogate(fitted *surrogate.Fitted, desc *problem.Descriptor, constrained bool) *Problem {
	nConst := 0
	if constrained {
		nConst = desc.NConstraints
	}
	bounds := make([][2]float64, desc.DimIn)
	for i := range bounds {
		bounds[i] = [2]float64{-1, 1}
	}
	return &Problem{
		Objective: func(_ context.Context, inputs [][]float64) ([][]float64, error) {
			outs, err := fitted.Predictor.Predict(inputs)
			if err != nil {
				return nil, err
			}
			for i, y := range outs {
				outs[i] = fitted.Norm.DenormalizeOut(y)
			}
			return outs, nil
		},
		Bounds:        bounds,
		NObjectives:   desc.NObjectives(),
		NConstraints:  nConst,
		ToPhysicalIn:  fitted.Norm.DenormalizeIn,
		ToPhysicalOut: identity,
	}
}

func cloneBounds(bounds [][2]float64) [][2]float64 {
	out := make([][2]float64, len(bounds))
	copy(out, bounds)
	return out
}
