package problem

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Benchmark bundles a named analytic test problem with its evaluator.
type Benchmark struct {
	Name       string
	Descriptor *Descriptor
	Evaluator  Evaluator
}

// benchmarkFunc maps one input vector to one output vector (objectives
// first, constraints last, constraint <= 0 feasible).
type benchmarkFunc func(x []float64) []float64

type benchmarkEvaluator struct {
	descriptor *Descriptor
	fn         benchmarkFunc
}

// Evaluate computes the true outputs for the whole batch. Any invalid
// point fails the batch with an EvaluationError rather than shrinking it.
func (b *benchmarkEvaluator) Evaluate(ctx context.Context, inputs [][]float64) ([][]float64, error) {
	outputs := make([][]float64, len(inputs))
	for i, x := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(x) != b.descriptor.DimIn {
			return nil, &EvaluationError{Point: i, Err: fmt.Errorf("expected %d inputs, got %d", b.descriptor.DimIn, len(x))}
		}
		y := b.fn(x)
		for _, v := range y {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &EvaluationError{Point: i, Err: fmt.Errorf("non-finite output %v", v)}
			}
		}
		outputs[i] = y
	}
	return outputs, nil
}

// LoadBenchmark returns the benchmark problem registered under name.
// Unknown names are configuration errors.
func LoadBenchmark(name string) (*Benchmark, error) {
	spec, ok := benchmarks[name]
	if !ok {
		return nil, fmt.Errorf("problem: unknown benchmark %q, valid names are: %v", name, BenchmarkNames())
	}
	desc, err := NewDescriptor(spec.dimIn, spec.dimOut, spec.nConst, spec.bounds)
	if err != nil {
		return nil, err
	}
	return &Benchmark{
		Name:       name,
		Descriptor: desc,
		Evaluator:  &benchmarkEvaluator{descriptor: desc, fn: spec.fn},
	}, nil
}

// BenchmarkNames lists the registered benchmark problems, sorted.
func BenchmarkNames() []string {
	names := make([]string, 0, len(benchmarks))
	for name := range benchmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type benchmarkSpec struct {
	dimIn  int
	dimOut int
	nConst int
	bounds [][2]float64
	fn     benchmarkFunc
}

var benchmarks = map[string]benchmarkSpec{
	"rosenbrock": {
		dimIn:  2,
		dimOut: 1,
		bounds: [][2]float64{{-2, 2}, {-2, 2}},
		fn: func(x []float64) []float64 {
			a := 1 - x[0]
			b := x[1] - x[0]*x[0]
			return []float64{a*a + 100*b*b}
		},
	},
	"eggholder": {
		dimIn:  2,
		dimOut: 1,
		bounds: [][2]float64{{-512, 512}, {-512, 512}},
		fn: func(x []float64) []float64 {
			y := x[1] + 47
			f := -y*math.Sin(math.Sqrt(math.Abs(x[0]/2+y))) -
				x[0]*math.Sin(math.Sqrt(math.Abs(x[0]-y)))
			return []float64{f}
		},
	},
	"fonseca": {
		dimIn:  2,
		dimOut: 2,
		bounds: [][2]float64{{-4, 4}, {-4, 4}},
		fn: func(x []float64) []float64 {
			c := 1 / math.Sqrt(float64(len(x)))
			var s1, s2 float64
			for _, xi := range x {
				s1 += (xi - c) * (xi - c)
				s2 += (xi + c) * (xi + c)
			}
			return []float64{1 - math.Exp(-s1), 1 - math.Exp(-s2)}
		},
	},
	"bnh": {
		dimIn:  2,
		dimOut: 4,
		nConst: 2,
		bounds: [][2]float64{{0, 5}, {0, 3}},
		fn: func(x []float64) []float64 {
			f1 := 4*x[0]*x[0] + 4*x[1]*x[1]
			f2 := (x[0]-5)*(x[0]-5) + (x[1]-5)*(x[1]-5)
			g1 := (x[0]-5)*(x[0]-5) + x[1]*x[1] - 25
			g2 := 7.7 - ((x[0]-8)*(x[0]-8) + (x[1]+3)*(x[1]+3))
			return []float64{f1, f2, g1, g2}
		},
	},
}
