package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := defaults(t)

	assert.Equal(t, "mae", cfg.Data.Convergence)
	assert.Equal(t, 0.05, cfg.Data.ConvergenceLimit)
	assert.Equal(t, "gp", cfg.Surrogate.Surrogate)
	assert.Equal(t, "nsga2", cfg.Optimization.Algorithm)
	assert.Equal(t, "max", cfg.Optimization.Error)
	assert.Equal(t, 0.2, cfg.Optimization.VerificationFraction)
	assert.True(t, cfg.Surrogate.AppendVerification)
	assert.False(t, cfg.Data.AutoOverwrite)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATA_CONVERGENCE", "r2")
	t.Setenv("DATA_CONVERGENCE_LIMIT", "0.95")
	t.Setenv("OPT_ALGORITHM", "neldermead")
	t.Setenv("SAMPLING_SEED", "42")

	cfg := defaults(t)
	assert.Equal(t, "r2", cfg.Data.Convergence)
	assert.Equal(t, 0.95, cfg.Data.ConvergenceLimit)
	assert.Equal(t, "neldermead", cfg.Optimization.Algorithm)
	assert.Equal(t, int64(42), cfg.Sampling.Seed)
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"convergence metric", func(c *Config) { c.Data.Convergence = "rmse" }},
		{"surrogate family", func(c *Config) { c.Surrogate.Surrogate = "kriging" }},
		{"algorithm", func(c *Config) { c.Optimization.Algorithm = "genetic" }},
		{"error reduction", func(c *Config) { c.Optimization.Error = "median" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			// The message must name the valid values so a typo is a
			// one-look fix.
			assert.Contains(t, err.Error(), "valid values")
		})
	}
}

func TestValidateAcceptsEveryFamily(t *testing.T) {
	for _, family := range []string{SurrogateOff, SurrogateGP, SurrogateRBF, SurrogateBest, SurrogateLoad} {
		cfg := defaults(t)
		cfg.Surrogate.Surrogate = family
		assert.NoError(t, cfg.Validate(), "family %q", family)
	}
}

func TestValidateRejectsBothOff(t *testing.T) {
	cfg := defaults(t)
	cfg.Surrogate.Surrogate = SurrogateOff
	cfg.Optimization.Algorithm = AlgorithmOff
	assert.Error(t, cfg.Validate())
}

func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"zero convergence limit", func(c *Config) { c.Data.ConvergenceLimit = 0 }, false},
		{"fraction above one", func(c *Config) { c.Optimization.VerificationFraction = 1.5 }, false},
		{"fraction zero", func(c *Config) { c.Optimization.VerificationFraction = 0 }, false},
		{"fraction of one", func(c *Config) { c.Optimization.VerificationFraction = 1 }, true},
		{"percentile out of range", func(c *Config) {
			c.Optimization.Error = ErrorPercentile
			c.Optimization.ErrorPercentile = 150
		}, false},
		{"population too small", func(c *Config) { c.Optimization.Population = 2 }, false},
		{"single cv fold", func(c *Config) { c.Surrogate.CVFolds = 1 }, false},
		{"zero max batch", func(c *Config) { c.Sampling.MaxBatch = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := defaults(t)
	b := defaults(t)

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	// Run-shaping settings change the fingerprint.
	b.Sampling.Seed = 99
	fpB, err = Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpB)

	// HTTP settings do not.
	c := defaults(t)
	c.HTTP.Port = 9999
	fpC, err := Fingerprint(c)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpC)
}
