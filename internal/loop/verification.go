package loop

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/copyleftdev/SAMO/internal/config"
	"github.com/copyleftdev/SAMO/internal/logging"
	"github.com/copyleftdev/SAMO/internal/metrics"
	"github.com/copyleftdev/SAMO/internal/optimizer"
	"github.com/copyleftdev/SAMO/internal/problem"
	"github.com/copyleftdev/SAMO/internal/store"
)

// relative errors below this denominator magnitude are skipped rather
// than divided into infinity
const trueValueEps = 1e-12

// Verification checks a surrogate-mode optimization result against the
// true function on a random subset of candidates and decides acceptance.
type Verification struct {
	cfg    *config.Config
	desc   *problem.Descriptor
	eval   problem.Evaluator
	db     *store.Store
	met    *metrics.Metrics
	logger *logging.Logger
	run    string
}

// VerificationReport is the outcome of one verification pass.
type VerificationReport struct {
	Indices      []int
	Inputs       [][]float64
	TrueOutputs  [][]float64
	Predicted    [][]float64
	ErrorMeasure float64
	Accepted     bool
}

// NewVerification wires a verification stage over the given evaluator
// and store. Verification samples are persisted exactly like training
// samples so a rejected cycle can recycle them.
func NewVerification(cfg *config.Config, desc *problem.Descriptor, eval problem.Evaluator,
	db *store.Store, met *metrics.Metrics, logger *logging.Logger, run string) *Verification {
	return &Verification{
		cfg:    cfg,
		desc:   desc,
		eval:   eval,
		db:     db,
		met:    met,
		logger: logger,
		run:    run,
	}
}

// Verify evaluates the true function at a random subset of the result's
// candidates, compares against the surrogate's objective predictions
// and reduces the percent errors to a single accept/reject measure.
// The cycle number seeds subset selection so reruns are reproducible
// but successive cycles pick different subsets.
func (v *Verification) Verify(ctx context.Context, res *optimizer.Result, cycle int) (*VerificationReport, error) {
	idx := subsetIndices(len(res.X), v.cfg.Optimization.VerificationFraction,
		v.cfg.Sampling.Seed+int64(cycle))

	inputs := make([][]float64, len(idx))
	predicted := make([][]float64, len(idx))
	for i, j := range idx {
		inputs[i] = res.X[j]
		predicted[i] = res.F[j]
	}

	outputs, err := v.eval.Evaluate(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("loop: verification evaluation failed: %w", err)
	}
	if err := v.db.AppendVerification(cycle, inputs, outputs); err != nil {
		return nil, fmt.Errorf("loop: append verification records: %w", err)
	}
	v.met.SamplesTotal.WithLabelValues(v.run, "verification").Add(float64(len(idx)))

	// Errors cover objective columns only. Constraint outputs are
	// checked by the optimizer, not verified here.
	nObj := v.desc.NObjectives()
	errs := percentErrors(outputs, predicted, nObj)
	measure := reduceErrors(errs, v.cfg.Optimization.Error, v.cfg.Optimization.ErrorPercentile)
	accepted := measure <= v.cfg.Optimization.ErrorLimit

	v.met.VerificationError.WithLabelValues(v.run).Set(measure)
	v.logger.Info("Verification result", map[string]interface{}{
		"run":       v.run,
		"cycle":     cycle,
		"subset":    len(idx),
		"reduction": v.cfg.Optimization.Error,
		"error":     measure,
		"limit":     v.cfg.Optimization.ErrorLimit,
		"accepted":  accepted,
	})

	return &VerificationReport{
		Indices:      idx,
		Inputs:       inputs,
		TrueOutputs:  outputs,
		Predicted:    predicted,
		ErrorMeasure: measure,
		Accepted:     accepted,
	}, nil
}

// subsetIndices draws ceil(n*fraction) distinct indices, at least one,
// without replacement.
func subsetIndices(n int, fraction float64, seed int64) []int {
	size := int(math.Ceil(float64(n) * fraction))
	if size < 1 {
		size = 1
	}
	if size > n {
		size = n
	}
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(n)[:size]
	sort.Ints(idx)
	return idx
}

// percentErrors builds the |100*(true-pred)/true| matrix over the first
// nObj output columns. Rows are candidates, columns objectives.
func percentErrors(truth, predicted [][]float64, nObj int) [][]float64 {
	errs := make([][]float64, len(truth))
	for i := range truth {
		row := make([]float64, nObj)
		for j := 0; j < nObj; j++ {
			t := truth[i][j]
			if math.Abs(t) < trueValueEps {
				row[j] = 0
				continue
			}
			row[j] = math.Abs(100 * (t - predicted[i][j]) / t)
		}
		errs[i] = row
	}
	return errs
}

// reduceErrors collapses the error matrix to a scalar. "max" takes the
// worst error anywhere; "mean" and "percentile" first reduce over
// candidates per objective, then take the worst objective.
func reduceErrors(errs [][]float64, method string, percentile float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	nObj := len(errs[0])
	switch method {
	case config.ErrorMax:
		worst := 0.0
		for _, row := range errs {
			for _, e := range row {
				if e > worst {
					worst = e
				}
			}
		}
		return worst
	case config.ErrorMean:
		worst := 0.0
		for j := 0; j < nObj; j++ {
			sum := 0.0
			for _, row := range errs {
				sum += row[j]
			}
			if m := sum / float64(len(errs)); m > worst {
				worst = m
			}
		}
		return worst
	case config.ErrorPercentile:
		worst := 0.0
		col := make([]float64, len(errs))
		for j := 0; j < nObj; j++ {
			for i, row := range errs {
				col[i] = row[j]
			}
			if p := lowerPercentile(col, percentile); p > worst {
				worst = p
			}
		}
		return worst
	default:
		panic(fmt.Sprintf("loop: unknown error reduction %q", method))
	}
}

// lowerPercentile returns the q-th percentile with lower interpolation:
// the sorted element at floor(q/100*(n-1)).
func lowerPercentile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := int(math.Floor(q / 100 * float64(len(sorted)-1)))
	if pos < 0 {
		pos = 0
	}
	if pos > len(sorted)-1 {
		pos = len(sorted) - 1
	}
	return sorted[pos]
}
