// Package loop contains the two core orchestrators: the active-learning
// loop that drives sampling, evaluation and surrogate training to
// convergence, and the optimization-verification loop that decides
// whether an optimizer result over the surrogate can be trusted. The
// outer controller connects them through an explicit "needs retraining"
// signal.
package loop

import (
	"context"
	"fmt"

	"github.com/copyleftdev/SAMO/internal/config"
	"github.com/copyleftdev/SAMO/internal/logging"
	"github.com/copyleftdev/SAMO/internal/metrics"
	"github.com/copyleftdev/SAMO/internal/problem"
	"github.com/copyleftdev/SAMO/internal/sampling"
	"github.com/copyleftdev/SAMO/internal/store"
	"github.com/copyleftdev/SAMO/internal/surrogate"
)

// State names the active-learning loop stages.
type State string

const (
	StateSampling    State = "sampling"
	StateEvaluating  State = "evaluating"
	StateTraining    State = "training"
	StateChecking    State = "checking_convergence"
	StateConverged   State = "converged"
	StateOptimizing  State = "optimizing"
	StateVerifying   State = "verifying"
	StateAccepted    State = "accepted"
)

// ConvergenceSeries records the chosen metric per completed training
// iteration, whether or not the iteration converged.
type ConvergenceSeries struct {
	Name   string
	Values []float64
}

// ActiveLearning drives sampling, evaluation, training and the
// convergence check until the surrogate satisfies the stopping rule.
// It owns the training database; samples only ever get appended.
type ActiveLearning struct {
	cfg     *config.Config
	desc    *problem.Descriptor
	eval    problem.Evaluator
	trainer surrogate.Trainer
	db      *store.Store
	met     *metrics.Metrics
	logger  *logging.Logger
	run     string

	policy     sampling.Policy
	iterations int
	noSamples  int
	trained    bool
	fitted     *surrogate.Fitted
	data       *surrogate.Dataset
	series     ConvergenceSeries
	state      State
}

// NewActiveLearning wires the loop. The store may already contain
// samples from a resumed run; call Resume to pick them up.
func NewActiveLearning(cfg *config.Config, desc *problem.Descriptor, eval problem.Evaluator,
	trainer surrogate.Trainer, db *store.Store, met *metrics.Metrics,
	logger *logging.Logger, run string) *ActiveLearning {
	return &ActiveLearning{
		cfg:     cfg,
		desc:    desc,
		eval:    eval,
		trainer: trainer,
		db:      db,
		met:     met,
		logger:  logger,
		run:     run,
		policy: sampling.Policy{
			Base:     cfg.Sampling.Base,
			PerDim:   cfg.Sampling.PerDim,
			MaxBatch: cfg.Sampling.MaxBatch,
		},
		series: ConvergenceSeries{Name: cfg.Data.Convergence},
		state:  StateSampling,
	}
}

// Resume loads the persisted training database of a prior run so the
// loop continues from the last checkpoint instead of starting empty.
func (al *ActiveLearning) Resume() error {
	records, err := al.db.TrainingRecords()
	if err != nil {
		return fmt.Errorf("loop: load training records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	al.noSamples = len(records)
	for _, rec := range records {
		if rec.Iteration > al.iterations {
			al.iterations = rec.Iteration
		}
	}
	al.logger.Info("Resuming from checkpoint", map[string]interface{}{
		"run":        al.run,
		"samples":    al.noSamples,
		"iterations": al.iterations,
	})
	return nil
}

// Reload refits the surrogate from the stored training database without
// drawing new samples. Used by the "load" surrogate mode.
func (al *ActiveLearning) Reload() error {
	if err := al.Resume(); err != nil {
		return err
	}
	if al.noSamples == 0 {
		return fmt.Errorf("loop: cannot load surrogate, training database is empty")
	}
	if err := al.train(); err != nil {
		return err
	}
	al.trained = true
	al.setState(StateConverged)
	return nil
}

// Trained reports whether the current surrogate satisfies the stopping
// rule. Cleared by MarkUntrained when verification rejects the optimum.
func (al *ActiveLearning) Trained() bool { return al.trained }

// MarkUntrained clears the convergence flag, forcing another training
// cycle. This is the designed retrain signal, not an error path.
func (al *ActiveLearning) MarkUntrained() { al.trained = false }

// Surrogate returns the current fitted surrogate. Read-only for the
// caller; it is replaced wholesale on every retrain.
func (al *ActiveLearning) Surrogate() *surrogate.Fitted { return al.fitted }

// Dataset returns the training dataset behind the current surrogate.
func (al *ActiveLearning) Dataset() *surrogate.Dataset { return al.data }

// Series returns the convergence metric series recorded so far.
func (al *ActiveLearning) Series() ConvergenceSeries { return al.series }

// Iterations returns the number of completed training iterations.
func (al *ActiveLearning) Iterations() int { return al.iterations }

// SampleCount returns the size of the training database.
func (al *ActiveLearning) SampleCount() int { return al.noSamples }

// CurrentState returns the loop state for progress reporting.
func (al *ActiveLearning) CurrentState() State { return al.state }

func (al *ActiveLearning) setState(s State) {
	al.state = s
	al.logger.Debug("Loop state", map[string]interface{}{
		"run":   al.run,
		"state": string(s),
	})
}

// Run iterates sample -> evaluate -> train -> check until the
// convergence policy is satisfied or the context is cancelled.
func (al *ActiveLearning) Run(ctx context.Context) error {
	for !al.trained {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := al.iterate(ctx); err != nil {
			return err
		}
	}
	al.setState(StateConverged)
	return nil
}

func (al *ActiveLearning) iterate(ctx context.Context) error {
	al.iterations++
	al.logger.Info("Active-learning iteration", map[string]interface{}{
		"run":       al.run,
		"iteration": al.iterations,
	})

	// Sampling
	al.setState(StateSampling)
	batch := al.policy.BatchSize(al.noSamples, al.desc.DimIn)
	var points [][]float64
	if al.noSamples == 0 || !al.cfg.Data.Adaptive || al.fitted == nil {
		points = sampling.Static(batch, al.noSamples, al.desc.Bounds, al.cfg.Sampling.Seed)
	} else {
		var err error
		points, err = sampling.Adaptive(batch, al.fitted, al.data, al.cfg.Sampling.Seed)
		if err != nil {
			return fmt.Errorf("loop: adaptive sampling: %w", err)
		}
	}

	// Evaluating. A failed point fails the whole batch; the sample
	// count must never drift from what was actually evaluated.
	al.setState(StateEvaluating)
	outputs, err := al.eval.Evaluate(ctx, points)
	if err != nil {
		return fmt.Errorf("loop: batch evaluation failed at iteration %d: %w", al.iterations, err)
	}
	if err := al.db.AppendTraining(al.iterations, points, outputs); err != nil {
		return fmt.Errorf("loop: append training records: %w", err)
	}
	al.noSamples += batch
	al.met.SamplesTotal.WithLabelValues(al.run, "training").Add(float64(batch))

	// Training
	al.setState(StateTraining)
	if err := al.train(); err != nil {
		return err
	}

	// Checking convergence
	al.setState(StateChecking)
	value, err := al.metricValue()
	if err != nil {
		return err
	}
	al.trained = converged(al.cfg.Data.Convergence, value, al.cfg.Data.ConvergenceLimit)
	al.series.Values = append(al.series.Values, value)

	al.met.SamplingIterations.WithLabelValues(al.run).Inc()
	al.met.ConvergenceMetric.WithLabelValues(al.run, al.series.Name).Set(value)
	al.logger.Info("Convergence check", map[string]interface{}{
		"run":       al.run,
		"metric":    al.series.Name,
		"value":     value,
		"limit":     al.cfg.Data.ConvergenceLimit,
		"converged": al.trained,
		"samples":   al.noSamples,
	})

	// Checkpoint the status after every training stage.
	if err := al.saveStatus(); err != nil {
		return err
	}
	if al.trained {
		al.logger.Info("Surrogate converged", map[string]interface{}{"run": al.run})
	}
	return nil
}

// train refits the surrogate on the full training database. The stored
// table is authoritative; merged verification records are picked up
// here without extra bookkeeping.
func (al *ActiveLearning) train() error {
	records, err := al.db.TrainingRecords()
	if err != nil {
		return fmt.Errorf("loop: load training records: %w", err)
	}
	inputs := make([][]float64, len(records))
	outputs := make([][]float64, len(records))
	for i, rec := range records {
		inputs[i] = rec.Inputs
		outputs[i] = rec.Outputs
	}
	al.noSamples = len(records)

	data, err := surrogate.NewDataset(inputs, outputs, al.desc.Bounds)
	if err != nil {
		return fmt.Errorf("loop: build dataset: %w", err)
	}

	fitted, err := al.trainer.Fit(data)
	if err != nil {
		return fmt.Errorf("loop: surrogate training: %w", err)
	}

	// The previous surrogate is replaced wholesale; at most one is
	// current at any time.
	al.data = data
	al.fitted = fitted
	return nil
}

// metricValue resolves the configured convergence metric for the
// current iteration.
func (al *ActiveLearning) metricValue() (float64, error) {
	if al.cfg.Data.Convergence == config.ConvergenceMaxIterations {
		return float64(al.iterations), nil
	}
	value, ok := al.fitted.Metrics[al.cfg.Data.Convergence]
	if !ok {
		return 0, fmt.Errorf("loop: surrogate %q did not report metric %q",
			al.fitted.Name, al.cfg.Data.Convergence)
	}
	return value, nil
}

func (al *ActiveLearning) saveStatus() error {
	st := &store.Status{
		SurrogateTrained: al.trained,
		DimIn:            al.desc.DimIn,
		DimOut:           al.desc.DimOut,
		NConst:           al.desc.NConstraints,
		RangeIn:          al.desc.Bounds,
	}
	if al.data != nil {
		st.RangeOut = al.data.RangeOut
	}
	return al.db.SaveStatus(st)
}

// converged applies the comparison policy for the metric. The metric
// name set is closed and validated at startup: iteration counts cross
// their limit upward, error metrics downward, fit scores upward.
func converged(metric string, value, limit float64) bool {
	switch metric {
	case config.ConvergenceMaxIterations:
		return value >= limit
	case config.ConvergenceMAE, config.ConvergenceVariance:
		return value <= limit
	case config.ConvergenceR2:
		return value >= limit
	default:
		// Unreachable after config validation.
		panic(fmt.Sprintf("loop: unknown convergence metric %q", metric))
	}
}
