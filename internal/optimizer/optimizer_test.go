package optimizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/SAMO/internal/config"
	"github.com/copyleftdev/SAMO/internal/problem"
	"github.com/copyleftdev/SAMO/internal/surrogate"
)

// exactPredictor behaves like a perfectly fitted surrogate for
// min f = -x subject to g = x - 2 <= 0 on x in [0, 10]: it accepts
// normalized inputs and returns normalized outputs, exactly as a
// trained model would.
type exactPredictor struct {
	norm *surrogate.Normalization
}

func (p *exactPredictor) Predict(inputs [][]float64) ([][]float64, error) {
	outs := make([][]float64, len(inputs))
	for i, row := range inputs {
		x := p.norm.DenormalizeIn(row)
		outs[i] = p.norm.NormalizeOut([]float64{-x[0], x[0] - 2})
	}
	return outs, nil
}

// boundaryFitted builds the surrogate-mode fixture above. The observed
// constraint range [-2, 8] is asymmetric around zero, so normalized
// constraint values and physical feasibility disagree everywhere except
// g = 3.
func boundaryFitted(t *testing.T) (*surrogate.Fitted, *problem.Descriptor) {
	t.Helper()
	desc, err := problem.NewDescriptor(1, 2, 1, [][2]float64{{0, 10}})
	require.NoError(t, err)
	norm := &surrogate.Normalization{
		RangeIn:  [][2]float64{{0, 10}},
		RangeOut: [][2]float64{{-10, 0}, {-2, 8}},
	}
	return &surrogate.Fitted{
		Name:      "exact",
		Predictor: &exactPredictor{norm: norm},
		Metrics:   map[string]float64{"mae": 0},
		Norm:      norm,
	}, desc
}

func directProblem(t *testing.T, name string, constrained bool) (*Problem, *problem.Benchmark) {
	t.Helper()
	bench, err := problem.LoadBenchmark(name)
	require.NoError(t, err)
	return BuildDirect(bench.Evaluator, bench.Descriptor, constrained), bench
}

func TestNewBackend(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	backend, err := NewBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, "nsga2", backend.Name())

	cfg.Optimization.Algorithm = config.AlgorithmNelderMead
	backend, err = NewBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, "neldermead", backend.Name())

	cfg.Optimization.Algorithm = config.AlgorithmOff
	_, err = NewBackend(cfg)
	assert.Error(t, err)
}

func TestNSGA2Fonseca(t *testing.T) {
	prob, bench := directProblem(t, "fonseca", true)
	res, err := (&NSGA2{}).Solve(context.Background(), prob, Termination{
		Population: 40, Generations: 40, Seed: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.X)
	require.Equal(t, len(res.X), len(res.F))

	for i, x := range res.X {
		require.Len(t, x, 2)
		for j, b := range bench.Descriptor.Bounds {
			assert.GreaterOrEqual(t, x[j], b[0])
			assert.LessOrEqual(t, x[j], b[1])
		}
		// Fonseca objectives live in [0, 1).
		require.Len(t, res.F[i], 2)
		for _, f := range res.F[i] {
			assert.GreaterOrEqual(t, f, 0.0)
			assert.Less(t, f, 1.0)
		}
	}

	// The reported front is mutually non-dominated.
	for i := range res.F {
		for j := range res.F {
			if i == j {
				continue
			}
			strictlyBetter := res.F[i][0] < res.F[j][0] && res.F[i][1] < res.F[j][1]
			assert.False(t, strictlyBetter, "candidate %d dominates %d", i, j)
		}
	}
}

func TestNSGA2RespectsConstraints(t *testing.T) {
	prob, bench := directProblem(t, "bnh", true)
	res, err := (&NSGA2{}).Solve(context.Background(), prob, Termination{
		Population: 40, Generations: 40, Seed: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.X)

	// Every returned candidate satisfies both constraints of the true
	// function.
	outs, err := bench.Evaluator.Evaluate(context.Background(), res.X)
	require.NoError(t, err)
	for _, out := range outs {
		assert.LessOrEqual(t, out[2], 1e-9)
		assert.LessOrEqual(t, out[3], 1e-9)
	}
}

func TestNSGA2EmptyResultWhenInfeasible(t *testing.T) {
	// One objective, one constraint that is violated everywhere.
	prob := &Problem{
		Objective: func(_ context.Context, xs [][]float64) ([][]float64, error) {
			outs := make([][]float64, len(xs))
			for i, x := range xs {
				outs[i] = []float64{x[0] * x[0], 1}
			}
			return outs, nil
		},
		Bounds:        [][2]float64{{-1, 1}},
		NObjectives:   1,
		NConstraints:  1,
		ToPhysicalIn:  identity,
		ToPhysicalOut: identity,
	}

	res, err := (&NSGA2{}).Solve(context.Background(), prob, Termination{
		Population: 20, Generations: 10, Seed: 3,
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNSGA2HonorsContext(t *testing.T) {
	prob, _ := directProblem(t, "fonseca", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&NSGA2{}).Solve(ctx, prob, Termination{Population: 20, Generations: 10, Seed: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNelderMeadRosenbrock(t *testing.T) {
	prob, _ := directProblem(t, "rosenbrock", false)
	res, err := (&NelderMead{}).Solve(context.Background(), prob, Termination{Seed: 1})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.X, 1)
	require.Len(t, res.F, 1)

	// Global minimum is f(1, 1) = 0.
	assert.Less(t, res.F[0][0], 0.1)
	assert.InDelta(t, 1.0, res.X[0][0], 0.3)
	assert.InDelta(t, 1.0, res.X[0][1], 0.3)
}

func TestNelderMeadRejectsMultiObjective(t *testing.T) {
	prob, _ := directProblem(t, "fonseca", false)
	_, err := (&NelderMead{}).Solve(context.Background(), prob, Termination{Seed: 1})
	assert.Error(t, err)
}

func TestNelderMeadConstraintPenalty(t *testing.T) {
	// Sphere with an inactive constraint: x[0] <= 0.9 keeps the
	// unconstrained optimum at the origin reachable.
	prob := &Problem{
		Objective: func(_ context.Context, xs [][]float64) ([][]float64, error) {
			outs := make([][]float64, len(xs))
			for i, x := range xs {
				outs[i] = []float64{x[0]*x[0] + x[1]*x[1], x[0] - 0.9}
			}
			return outs, nil
		},
		Bounds:        [][2]float64{{-2, 2}, {-2, 2}},
		NObjectives:   1,
		NConstraints:  1,
		ToPhysicalIn:  identity,
		ToPhysicalOut: identity,
	}

	res, err := (&NelderMead{}).Solve(context.Background(), prob, Termination{Seed: 4})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 0.0, res.X[0][0], 0.1)
	assert.InDelta(t, 0.0, res.X[0][1], 0.1)
	assert.LessOrEqual(t, res.X[0][0], 0.9+feasibilityTol)
}

func TestNelderMeadEmptyResultWhenInfeasible(t *testing.T) {
	prob := &Problem{
		Objective: func(_ context.Context, xs [][]float64) ([][]float64, error) {
			outs := make([][]float64, len(xs))
			for i, x := range xs {
				outs[i] = []float64{x[0] * x[0], 1}
			}
			return outs, nil
		},
		Bounds:        [][2]float64{{-1, 1}},
		NObjectives:   1,
		NConstraints:  1,
		ToPhysicalIn:  identity,
		ToPhysicalOut: identity,
	}

	res, err := (&NelderMead{}).Solve(context.Background(), prob, Termination{Seed: 5})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNSGA2SurrogateModeFeasibility(t *testing.T) {
	fitted, desc := boundaryFitted(t)
	prob := BuildSurrogate(fitted, desc, true)

	res, err := (&NSGA2{}).Solve(context.Background(), prob, Termination{
		Population: 40, Generations: 40, Seed: 6,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.X)

	// Feasibility is judged on physical outputs, so no candidate may
	// cross the true boundary at x = 2 even though the normalized
	// constraint value stays negative until x = 5.
	for _, x := range res.X {
		assert.LessOrEqual(t, x[0]-2, 1e-9, "candidate x=%v is physically infeasible", x[0])
	}

	// The solver still pushes toward the constrained optimum.
	best := res.X[0][0]
	for _, x := range res.X {
		if x[0] > best {
			best = x[0]
		}
	}
	assert.Greater(t, best, 1.5)
}

func TestNelderMeadSurrogateModeFeasibility(t *testing.T) {
	fitted, desc := boundaryFitted(t)
	prob := BuildSurrogate(fitted, desc, true)

	res, err := (&NelderMead{}).Solve(context.Background(), prob, Termination{Seed: 7})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.X, 1)

	assert.LessOrEqual(t, res.X[0][0]-2, feasibilityTol)
	assert.InDelta(t, 2.0, res.X[0][0], 0.1)
	// Reported objective values are physical, not normalized.
	assert.InDelta(t, -res.X[0][0], res.F[0][0], 1e-9)
}

func TestBuildDirectGatesConstraints(t *testing.T) {
	bench, err := problem.LoadBenchmark("bnh")
	require.NoError(t, err)

	constrained := BuildDirect(bench.Evaluator, bench.Descriptor, true)
	assert.Equal(t, 2, constrained.NConstraints)

	relaxed := BuildDirect(bench.Evaluator, bench.Descriptor, false)
	assert.Equal(t, 0, relaxed.NConstraints)
	assert.Equal(t, 2, relaxed.NObjectives)
}

func TestConstrainedDominance(t *testing.T) {
	feasibleGood := individual{out: []float64{1, 1}, cv: 0}
	feasibleBad := individual{out: []float64{2, 2}, cv: 0}
	infeasibleLow := individual{out: []float64{0, 0}, cv: 0.1}
	infeasibleHigh := individual{out: []float64{0, 0}, cv: 5}

	assert.True(t, dominates(feasibleGood, feasibleBad, 2))
	assert.False(t, dominates(feasibleBad, feasibleGood, 2))
	// Feasibility beats objective values.
	assert.True(t, dominates(feasibleBad, infeasibleLow, 2))
	// Among infeasible, less violation wins.
	assert.True(t, dominates(infeasibleLow, infeasibleHigh, 2))
	// Equal vectors do not dominate each other.
	assert.False(t, dominates(feasibleGood, feasibleGood, 2))
}
