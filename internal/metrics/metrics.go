// Package metrics exposes Prometheus collectors for validation runs.
//
// Collectors are registered on the default registry at init time, so any
// process that mounts promhttp.Handler() (see internal/server) serves them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ruleVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odatacheck_rule_verdicts_total",
			Help: "Rule evaluations by verdict and requirement level",
		},
		[]string{"verdict", "level"},
	)

	ruleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "odatacheck_rule_duration_seconds",
			Help:    "Wall time spent evaluating a single rule",
			Buckets: prometheus.DefBuckets,
		},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "odatacheck_probe_duration_seconds",
			Help:    "Latency of HTTP probes issued against the target service",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odatacheck_breaker_transitions_total",
			Help: "Circuit breaker state transitions per target service",
		},
		[]string{"service", "to"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "odatacheck_run_duration_seconds",
			Help:    "Duration of complete validation runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	jobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "odatacheck_jobs_active",
			Help: "Validation jobs currently running in the API server",
		},
	)
)

// ObserveVerdict counts one rule verdict.
func ObserveVerdict(verdict, level string, d time.Duration) {
	ruleVerdicts.WithLabelValues(verdict, level).Inc()
	ruleDuration.Observe(d.Seconds())
}

// ObserveProbe records one HTTP probe. code is "error" for transport failures.
func ObserveProbe(method, code string, d time.Duration) {
	probeDuration.WithLabelValues(method, code).Observe(d.Seconds())
}

func ObserveBreakerTransition(service, to string) {
	breakerTransitions.WithLabelValues(service, to).Inc()
}

func ObserveRun(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

func JobStarted()  { jobsActive.Inc() }
func JobFinished() { jobsActive.Dec() }
