// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Experiment outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeKilled    = "killed"
	OutcomeSkipped   = "skipped"
)

var (
	ExperimentsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweepgrid_experiments_started_total",
		Help: "Experiments taken from the queue by a worker",
	})

	ExperimentsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweepgrid_experiments_finished_total",
		Help: "Experiments finished, by outcome",
	}, []string{"outcome"})

	ExperimentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweepgrid_experiment_duration_seconds",
		Help:    "Wall time of executed experiments",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	RacingConfigurations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sweepgrid_race_racing_configurations",
		Help: "Configurations still racing",
	}, []string{"batch"})

	RaceIterations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sweepgrid_race_iterations_completed",
		Help: "Race iterations completed",
	}, []string{"batch"})

	RacePValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sweepgrid_race_p_value",
		Help: "Last p-value computed by a race",
	}, []string{"batch"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
