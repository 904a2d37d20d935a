package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Convergence metric names accepted by DATA_CONVERGENCE.
const (
	ConvergenceMaxIterations = "max_iterations"
	ConvergenceMAE           = "mae"
	ConvergenceVariance      = "variance"
	ConvergenceR2            = "r2"
)

// Surrogate family names accepted by SURROGATE.
const (
	SurrogateOff  = "off"
	SurrogateGP   = "gp"
	SurrogateRBF  = "rbf"
	// SurrogateBest cross-validates every family and keeps the winner.
	SurrogateBest = "best"
	SurrogateLoad = "load"
)

// Optimization algorithm names accepted by OPT_ALGORITHM.
const (
	AlgorithmOff        = "off"
	AlgorithmNSGA2      = "nsga2"
	AlgorithmNelderMead = "neldermead"
)

// Error reduction names accepted by OPT_ERROR.
const (
	ErrorMax        = "max"
	ErrorMean       = "mean"
	ErrorPercentile = "percentile"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Data struct {
		// Dir is the base directory for per-problem result databases.
		Dir string `env:"DATA_DIR" envDefault:"data"`
		// Adaptive switches the sampling engine to surrogate-informed
		// resampling after the first batch.
		Adaptive bool `env:"DATA_ADAPTIVE" envDefault:"false"`
		// Convergence selects the surrogate convergence metric:
		// max_iterations, mae, variance or r2.
		Convergence string `env:"DATA_CONVERGENCE" envDefault:"mae"`
		// ConvergenceLimit is the threshold the metric is compared against.
		ConvergenceLimit float64 `env:"DATA_CONVERGENCE_LIMIT" envDefault:"0.05"`
		// AutoOverwrite answers the overwrite-or-abort question for
		// conflicting prior results without asking. Default is to abort.
		AutoOverwrite bool `env:"DATA_AUTO_OVERWRITE" envDefault:"false"`
	}
	Sampling struct {
		// Base and PerDim set the batch-size growth policy:
		// batch = Base + PerDim*dimIn, doubled once prior samples exist.
		Base   int `env:"SAMPLING_BASE" envDefault:"5"`
		PerDim int `env:"SAMPLING_PER_DIM" envDefault:"5"`
		// MaxBatch caps the growth policy. The policy grows with sample
		// count and dimension and must never be left unbounded.
		MaxBatch int   `env:"SAMPLING_MAX_BATCH" envDefault:"100"`
		Seed     int64 `env:"SAMPLING_SEED" envDefault:"1"`
	}
	Surrogate struct {
		// Surrogate selects the surrogate family: off, gp, rbf, best or load.
		Surrogate string `env:"SURROGATE" envDefault:"gp"`
		// AppendVerification merges the verification database into the
		// training database when a verification round rejects the optimum.
		AppendVerification bool `env:"SURROGATE_APPEND_VERIFICATION" envDefault:"true"`
		// CVFolds is the number of cross-validation folds used for the
		// surrogate quality metrics.
		CVFolds int `env:"SURROGATE_CV_FOLDS" envDefault:"5"`
	}
	Optimization struct {
		// Algorithm selects the optimizer backend: off, nsga2 or neldermead.
		Algorithm string `env:"OPT_ALGORITHM" envDefault:"nsga2"`
		// Constrained keeps the problem's constraint outputs active.
		Constrained bool `env:"OPT_CONSTRAINED" envDefault:"true"`
		// Error selects the verification error reduction: max, mean or
		// percentile.
		Error string `env:"OPT_ERROR" envDefault:"max"`
		// ErrorLimit is the accept threshold for the reduced percent error.
		ErrorLimit float64 `env:"OPT_ERROR_LIMIT" envDefault:"5.0"`
		// ErrorPercentile is used when Error is "percentile".
		ErrorPercentile float64 `env:"OPT_ERROR_PERCENTILE" envDefault:"60"`
		// VerificationFraction is the share of optimizer candidates that is
		// re-evaluated against the true function (ceil, at least one).
		VerificationFraction float64 `env:"OPT_VERIFICATION_FRACTION" envDefault:"0.2"`
		// MaxCycles bounds the optimize/verify/retrain feedback loop.
		MaxCycles int `env:"OPT_MAX_CYCLES" envDefault:"10"`
		// Population and Generations configure the NSGA-II backend.
		Population  int `env:"OPT_POPULATION" envDefault:"40"`
		Generations int `env:"OPT_GENERATIONS" envDefault:"50"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects unknown enum values and out-of-range thresholds.
// Everything here is a startup failure; the loops assume a valid Config
// and never re-check these at runtime.
func (c *Config) Validate() error {
	switch c.Data.Convergence {
	case ConvergenceMaxIterations, ConvergenceMAE, ConvergenceVariance, ConvergenceR2:
	default:
		return fmt.Errorf("config: unknown convergence metric %q, valid values are: %s, %s, %s, %s",
			c.Data.Convergence, ConvergenceMaxIterations, ConvergenceMAE, ConvergenceVariance, ConvergenceR2)
	}

	switch c.Surrogate.Surrogate {
	case SurrogateOff, SurrogateGP, SurrogateRBF, SurrogateBest, SurrogateLoad:
	default:
		return fmt.Errorf("config: unknown surrogate %q, valid values are: %s, %s, %s, %s, %s",
			c.Surrogate.Surrogate, SurrogateOff, SurrogateGP, SurrogateRBF, SurrogateBest, SurrogateLoad)
	}

	switch c.Optimization.Algorithm {
	case AlgorithmOff, AlgorithmNSGA2, AlgorithmNelderMead:
	default:
		return fmt.Errorf("config: unknown optimization algorithm %q, valid values are: %s, %s, %s",
			c.Optimization.Algorithm, AlgorithmOff, AlgorithmNSGA2, AlgorithmNelderMead)
	}

	switch c.Optimization.Error {
	case ErrorMax, ErrorMean, ErrorPercentile:
	default:
		return fmt.Errorf("config: unknown error reduction %q, valid values are: %s, %s, %s",
			c.Optimization.Error, ErrorMax, ErrorMean, ErrorPercentile)
	}

	if c.Surrogate.Surrogate == SurrogateOff && c.Optimization.Algorithm == AlgorithmOff {
		return fmt.Errorf("config: surrogate and optimization are both off, there is nothing to perform")
	}

	if c.Data.ConvergenceLimit <= 0 && c.Data.Convergence != ConvergenceR2 {
		return fmt.Errorf("config: convergence limit must be positive, got %v", c.Data.ConvergenceLimit)
	}

	if c.Sampling.MaxBatch < 1 {
		return fmt.Errorf("config: sampling max batch must be at least 1, got %d", c.Sampling.MaxBatch)
	}
	if c.Sampling.Base < 1 || c.Sampling.PerDim < 0 {
		return fmt.Errorf("config: invalid sampling growth policy (base=%d, per_dim=%d)",
			c.Sampling.Base, c.Sampling.PerDim)
	}

	if f := c.Optimization.VerificationFraction; f <= 0 || f > 1 {
		return fmt.Errorf("config: verification fraction must be in (0, 1], got %v", f)
	}
	if p := c.Optimization.ErrorPercentile; c.Optimization.Error == ErrorPercentile && (p <= 0 || p > 100) {
		return fmt.Errorf("config: error percentile must be in (0, 100], got %v", p)
	}
	if c.Optimization.ErrorLimit <= 0 {
		return fmt.Errorf("config: error limit must be positive, got %v", c.Optimization.ErrorLimit)
	}
	if c.Optimization.MaxCycles < 1 {
		return fmt.Errorf("config: optimization max cycles must be at least 1, got %d", c.Optimization.MaxCycles)
	}
	if c.Optimization.Population < 4 || c.Optimization.Generations < 1 {
		return fmt.Errorf("config: invalid optimizer termination (population=%d, generations=%d)",
			c.Optimization.Population, c.Optimization.Generations)
	}

	if c.Surrogate.CVFolds < 2 {
		return fmt.Errorf("config: cross-validation folds must be at least 2, got %d", c.Surrogate.CVFolds)
	}

	return nil
}

// Fingerprint serializes the settings that shape a run's persisted
// results. Two runs with the same fingerprint produce compatible
// databases; anything outside these sections (HTTP, logging) may differ
// freely between restarts.
func Fingerprint(c *Config) (string, error) {
	payload, err := json.Marshal(struct {
		Data         interface{} `json:"data"`
		Sampling     interface{} `json:"sampling"`
		Surrogate    interface{} `json:"surrogate"`
		Optimization interface{} `json:"optimization"`
	}{c.Data, c.Sampling, c.Surrogate, c.Optimization})
	if err != nil {
		return "", fmt.Errorf("config: fingerprint: %w", err)
	}
	return string(payload), nil
}
