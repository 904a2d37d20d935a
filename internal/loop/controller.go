package loop

import (
	"context"
	"fmt"

	"github.com/copyleftdev/SAMO/internal/config"
	"github.com/copyleftdev/SAMO/internal/logging"
	"github.com/copyleftdev/SAMO/internal/metrics"
	"github.com/copyleftdev/SAMO/internal/optimizer"
	"github.com/copyleftdev/SAMO/internal/problem"
	"github.com/copyleftdev/SAMO/internal/store"
	"github.com/copyleftdev/SAMO/internal/surrogate"
)

// Summary is the final outcome of a full run.
type Summary struct {
	Converged    bool
	Cycles       int
	Iterations   int
	TotalSamples int
	ErrorMeasure float64
	Result       *optimizer.Result
	Series       ConvergenceSeries
}

// Controller runs a complete surrogate-optimization workflow: the
// active-learning loop, the optimizer backend and the verification
// stage, connected by the retrain signal. Which stages run is decided
// by the surrogate and algorithm enums.
type Controller struct {
	cfg    *config.Config
	desc   *problem.Descriptor
	eval   problem.Evaluator
	db     *store.Store
	met    *metrics.Metrics
	logger *logging.Logger
	run    string

	al       *ActiveLearning
	verifier *Verification
	backend  optimizer.Backend
	report   *RunReport
	resumed  bool
}

// NewController wires all stages for one run. resumed indicates the
// store was carried over from a prior run of the same configuration.
func NewController(cfg *config.Config, desc *problem.Descriptor, eval problem.Evaluator,
	db *store.Store, met *metrics.Metrics, logger *logging.Logger,
	run string, resumed bool) (*Controller, error) {
	c := &Controller{
		cfg:     cfg,
		desc:    desc,
		eval:    eval,
		db:      db,
		met:     met,
		logger:  logger,
		run:     run,
		report:  NewRunReport(cfg.Data.Dir, run),
		resumed: resumed,
	}

	if cfg.Surrogate.Surrogate != config.SurrogateOff {
		trainer, err := surrogate.NewTrainer(cfg)
		if err != nil {
			return nil, err
		}
		switch tr := trainer.(type) {
		case *surrogate.GPTrainer:
			trainer = tr.WithLogger(logging.NewZapLogger(logger))
		case *surrogate.BestTrainer:
			trainer = tr.WithLogger(logging.NewZapLogger(logger))
		}
		c.al = NewActiveLearning(cfg, desc, eval, trainer, db, met, logger, run)
	}
	if cfg.Optimization.Algorithm != config.AlgorithmOff {
		backend, err := optimizer.NewBackend(cfg)
		if err != nil {
			return nil, err
		}
		c.backend = backend
		c.verifier = NewVerification(cfg, desc, eval, db, met, logger, run)
	}
	return c, nil
}

// Run executes the workflow to completion.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	c.met.RunsActive.Inc()
	defer c.met.RunsActive.Dec()

	switch {
	case c.backend == nil:
		return c.runSurrogateOnly(ctx)
	case c.al == nil:
		return c.runDirect(ctx)
	default:
		return c.runFull(ctx)
	}
}

// runSurrogateOnly trains to convergence and stops. The fitted model
// stays available through the persisted training database.
func (c *Controller) runSurrogateOnly(ctx context.Context) (*Summary, error) {
	if err := c.prepareSurrogate(ctx); err != nil {
		return nil, err
	}
	return c.summary(true, 0, nil, 0), nil
}

// runDirect optimizes the true function without a surrogate. The
// optimum needs no verification; the loop converges after one solve.
func (c *Controller) runDirect(ctx context.Context) (*Summary, error) {
	prob := optimizer.BuildDirect(c.eval, c.desc, c.cfg.Optimization.Constrained)
	res, err := c.backend.Solve(ctx, prob, c.termination(0))
	if err != nil {
		return nil, fmt.Errorf("loop: direct optimization: %w", err)
	}
	if res == nil {
		c.met.OptimizationCycles.WithLabelValues(c.run, "empty").Inc()
		c.logger.Warn("Direct optimization found no feasible candidates", map[string]interface{}{
			"run": c.run,
		})
		c.appendReport(1, nil, nil)
		return c.summary(false, 1, nil, 0), nil
	}
	c.met.OptimizationCycles.WithLabelValues(c.run, "accepted").Inc()
	c.appendReport(1, res, nil)
	c.logger.Info("Direct optimization finished", map[string]interface{}{
		"run":        c.run,
		"candidates": len(res.X),
	})
	return c.summary(true, 1, res, 0), nil
}

// runFull alternates optimize and verify against the surrogate,
// retraining whenever verification rejects, until the optimum is
// accepted or the cycle budget runs out.
func (c *Controller) runFull(ctx context.Context) (*Summary, error) {
	if err := c.prepareSurrogate(ctx); err != nil {
		return nil, err
	}

	var lastMeasure float64
	for cycle := 1; cycle <= c.cfg.Optimization.MaxCycles; cycle++ {
		if !c.al.Trained() {
			if err := c.retrain(ctx); err != nil {
				return nil, err
			}
		}

		c.al.setState(StateOptimizing)
		prob := optimizer.BuildSurrogate(c.al.Surrogate(), c.desc, c.cfg.Optimization.Constrained)
		res, err := c.backend.Solve(ctx, prob, c.termination(cycle))
		if err != nil {
			return nil, fmt.Errorf("loop: optimization cycle %d: %w", cycle, err)
		}

		// An empty result means the surrogate landscape admitted no
		// feasible candidates. Nothing to verify; the surrogate needs
		// more data near the feasible region.
		if res == nil {
			c.met.OptimizationCycles.WithLabelValues(c.run, "empty").Inc()
			c.logger.Warn("Optimization returned no candidates, retraining", map[string]interface{}{
				"run":   c.run,
				"cycle": cycle,
			})
			c.appendReport(cycle, nil, nil)
			c.al.MarkUntrained()
			if err := c.al.saveStatus(); err != nil {
				return nil, err
			}
			continue
		}

		c.al.setState(StateVerifying)
		report, err := c.verifier.Verify(ctx, res, cycle)
		if err != nil {
			return nil, err
		}
		c.appendReport(cycle, res, report)
		lastMeasure = report.ErrorMeasure

		if report.Accepted {
			c.al.setState(StateAccepted)
			c.met.OptimizationCycles.WithLabelValues(c.run, "accepted").Inc()
			if err := c.al.saveStatus(); err != nil {
				return nil, err
			}
			c.logger.Info("Optimum accepted", map[string]interface{}{
				"run":           c.run,
				"cycle":         cycle,
				"candidates":    len(res.X),
				"error":         report.ErrorMeasure,
				"total_samples": c.totalSamples(),
			})
			return c.summary(true, cycle, res, report.ErrorMeasure), nil
		}

		c.met.OptimizationCycles.WithLabelValues(c.run, "rejected").Inc()
		// The on-disk status must reflect the retrain decision before
		// the next training runs, or a crash here would restart into a
		// "model is converged" conflict.
		c.al.MarkUntrained()
		if err := c.al.saveStatus(); err != nil {
			return nil, err
		}
	}

	c.logger.Warn("Cycle budget exhausted without an accepted optimum", map[string]interface{}{
		"run":    c.run,
		"cycles": c.cfg.Optimization.MaxCycles,
	})
	return c.summary(false, c.cfg.Optimization.MaxCycles, nil, lastMeasure), nil
}

// prepareSurrogate brings the surrogate to a trained state, either by
// loading from the persisted database or by running active learning.
func (c *Controller) prepareSurrogate(ctx context.Context) error {
	if c.resumed {
		if err := c.al.Resume(); err != nil {
			return err
		}
	}
	if c.cfg.Surrogate.Surrogate == config.SurrogateLoad {
		return c.al.Reload()
	}
	return c.al.Run(ctx)
}

// retrain feeds rejected verification samples back into the training
// database when configured, then reruns the active-learning loop.
func (c *Controller) retrain(ctx context.Context) error {
	if c.cfg.Surrogate.AppendVerification {
		n, err := c.db.MergeVerification()
		if err != nil {
			return fmt.Errorf("loop: merge verification samples: %w", err)
		}
		if n > 0 {
			c.logger.Info("Merged verification samples into training database", map[string]interface{}{
				"run":     c.run,
				"samples": n,
			})
		}
	}
	return c.al.Run(ctx)
}

// appendReport writes the cycle record; a failed write is logged but
// never fails the run.
func (c *Controller) appendReport(cycle int, res *optimizer.Result, rep *VerificationReport) {
	if err := c.report.AppendCycle(cycle, res, rep); err != nil {
		c.logger.Warn("Run report write failed", map[string]interface{}{
			"run":   c.run,
			"error": err.Error(),
		})
	}
}

func (c *Controller) termination(cycle int) optimizer.Termination {
	return optimizer.Termination{
		Population:  c.cfg.Optimization.Population,
		Generations: c.cfg.Optimization.Generations,
		Seed:        c.cfg.Sampling.Seed + int64(cycle),
	}
}

// totalSamples counts distinct true-function evaluations: the training
// database plus verification records not yet folded into it.
func (c *Controller) totalSamples() int {
	total := 0
	if c.al != nil {
		total = c.al.SampleCount()
	}
	if n, err := c.db.UnmergedVerificationCount(); err == nil {
		total += n
	}
	return total
}

func (c *Controller) summary(converged bool, cycles int, res *optimizer.Result, measure float64) *Summary {
	s := &Summary{
		Converged:    converged,
		Cycles:       cycles,
		TotalSamples: c.totalSamples(),
		ErrorMeasure: measure,
		Result:       res,
	}
	if c.al != nil {
		s.Iterations = c.al.Iterations()
		s.Series = c.al.Series()
	}
	return s
}
