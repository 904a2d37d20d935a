// Package surrogate provides the trainable-predictor capability: model
// families that approximate an expensive evaluator from its sample
// database, with cross-validated quality metrics and a model-selection
// rule. Predictors operate in normalized [-1, 1] space; every fitted
// model carries the transforms back to physical units.
package surrogate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/copyleftdev/SAMO/internal/config"
)

// Predictor maps a batch of input vectors to output vectors. Inputs and
// outputs are in normalized space.
type Predictor interface {
	Predict(inputs [][]float64) ([][]float64, error)
}

// UncertaintyPredictor is implemented by families that expose a
// predictive standard deviation alongside the mean. Adaptive sampling
// prefers it when available.
type UncertaintyPredictor interface {
	Predictor
	PredictStd(inputs [][]float64) (mean, std [][]float64, err error)
}

// Fitted is the result of one training run: an opaque predictor plus the
// quality metrics of the fit. It is replaced wholesale on every retrain.
type Fitted struct {
	Name      string
	Predictor Predictor
	// Metrics holds at least mae, variance and r2 from cross-validation,
	// measured in normalized output space.
	Metrics map[string]float64
	// Norm converts between physical units and the predictor's space.
	Norm *Normalization
}

// PredictPhysical evaluates the surrogate on physical-unit inputs and
// returns physical-unit outputs.
func (f *Fitted) PredictPhysical(inputs [][]float64) ([][]float64, error) {
	normIn := make([][]float64, len(inputs))
	for i, x := range inputs {
		normIn[i] = f.Norm.NormalizeIn(x)
	}
	normOut, err := f.Predictor.Predict(normIn)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(normOut))
	for i, y := range normOut {
		out[i] = f.Norm.DenormalizeOut(y)
	}
	return out, nil
}

// Trainer is the surrogate-trainer capability: fit a model family to a
// training dataset and report its metrics.
type Trainer interface {
	Name() string
	Fit(data *Dataset) (*Fitted, error)
}

// NewTrainer builds the trainer selected by the configuration enum.
// The set is closed; config validation already rejected unknown names,
// so an unknown value here is a programming error.
func NewTrainer(cfg *config.Config) (Trainer, error) {
	switch cfg.Surrogate.Surrogate {
	case config.SurrogateGP, config.SurrogateLoad:
		// "load" refits from the persisted database; the family is GP.
		return NewGPTrainer(cfg.Surrogate.CVFolds), nil
	case config.SurrogateRBF:
		return NewRBFTrainer(cfg.Surrogate.CVFolds), nil
	case config.SurrogateBest:
		return NewBestTrainer(cfg.Surrogate.CVFolds), nil
	default:
		return nil, fmt.Errorf("surrogate: no trainer for %q", cfg.Surrogate.Surrogate)
	}
}

// BestTrainer fits every model family on the same dataset and keeps the
// winner of the model-selection rule. The returned Fitted carries the
// winning family's name and metrics.
type BestTrainer struct {
	trainers []Trainer
}

// NewBestTrainer builds the all-families trainer.
func NewBestTrainer(folds int) *BestTrainer {
	return &BestTrainer{
		trainers: []Trainer{NewGPTrainer(folds), NewRBFTrainer(folds)},
	}
}

// WithLogger routes diagnostics of the families that log to the given
// logger.
func (t *BestTrainer) WithLogger(logger *zap.Logger) *BestTrainer {
	for i, tr := range t.trainers {
		if gp, ok := tr.(*GPTrainer); ok {
			t.trainers[i] = gp.WithLogger(logger)
		}
	}
	return t
}

func (t *BestTrainer) Name() string { return "best" }

// Fit trains every family and selects by cross-validated error. A
// family that fails to fit fails the whole training; partial selection
// would silently change the comparison set between retrains.
func (t *BestTrainer) Fit(data *Dataset) (*Fitted, error) {
	candidates := make([]*Fitted, 0, len(t.trainers))
	for _, tr := range t.trainers {
		fitted, err := tr.Fit(data)
		if err != nil {
			return nil, fmt.Errorf("best: %s: %w", tr.Name(), err)
		}
		candidates = append(candidates, fitted)
	}
	return SelectBest(candidates)
}

// SelectBest is the model-selection rule: among candidate fits, keep the
// one with the lowest cross-validated mean absolute error.
func SelectBest(candidates []*Fitted) (*Fitted, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("surrogate: no candidate models to select from")
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Metrics["mae"] < best.Metrics["mae"] {
			best = c
		}
	}
	return best, nil
}
