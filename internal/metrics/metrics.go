// Package metrics exposes Prometheus instrumentation for the
// surrogate-optimization loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors the loops update. One instance is shared
// per process and labelled by run identity.
type Metrics struct {
	SamplingIterations *prometheus.CounterVec
	SamplesTotal       *prometheus.CounterVec
	ConvergenceMetric  *prometheus.GaugeVec
	VerificationError  *prometheus.GaugeVec
	OptimizationCycles *prometheus.CounterVec
	RunsActive         prometheus.Gauge
}

// New registers the collectors on the given registerer (pass
// prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SamplingIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "samo_sampling_iterations_total",
			Help: "Completed active-learning iterations per run.",
		}, []string{"run"}),
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "samo_samples_total",
			Help: "True-function evaluations per run and database.",
		}, []string{"run", "database"}),
		ConvergenceMetric: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samo_convergence_metric",
			Help: "Latest surrogate convergence metric value per run.",
		}, []string{"run", "metric"}),
		VerificationError: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samo_verification_error",
			Help: "Latest reduced verification percent error per run.",
		}, []string{"run"}),
		OptimizationCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "samo_optimization_cycles_total",
			Help: "Optimize/verify cycles per run and outcome.",
		}, []string{"run", "outcome"}),
		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "samo_runs_active",
			Help: "Number of runs currently executing.",
		}),
	}
}
