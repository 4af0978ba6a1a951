// Package metrics owns the Prometheus collectors exported by the daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ventpipe"

var (
	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent executing a pipeline stage",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"stage", "outcome"})

	stageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_outcomes_total",
		Help:      "Number of stage executions by outcome",
	}, []string{"stage", "outcome"})

	jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Number of jobs reaching a terminal stage",
	}, []string{"stage"})

	leasesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_reclaimed_total",
		Help:      "Number of expired leases released by the reclaim sweep",
	})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per capability (0 closed, 1 open, 2 half-open)",
	}, []string{"capability"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_jobs",
		Help:      "Number of jobs per stage",
	}, []string{"stage"})

	sqlOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sqlite_op_duration_milliseconds",
		Help:      "Time spent on a sqlite operation",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
	}, []string{"op", "method"})

	sqlOpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sqlite_op_total",
		Help:      "Number of sqlite operations",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		stageDuration,
		stageOutcomes,
		jobsFinished,
		leasesReclaimed,
		breakerState,
		queueDepth,
		sqlOpLatency,
		sqlOpTotal,
	)
}

// ObserveStage records one stage execution.
func ObserveStage(stage, outcome string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
	stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// JobFinished counts a job entering a terminal stage.
func JobFinished(stage string) {
	jobsFinished.WithLabelValues(stage).Inc()
}

// LeasesReclaimed adds n to the reclaimed lease counter.
func LeasesReclaimed(n int) {
	if n > 0 {
		leasesReclaimed.Add(float64(n))
	}
}

// SetBreakerState publishes the breaker state for a capability.
func SetBreakerState(capability string, state int) {
	breakerState.WithLabelValues(capability).Set(float64(state))
}

// SetQueueDepth publishes the job count for a stage.
func SetQueueDepth(stage string, count int) {
	queueDepth.WithLabelValues(stage).Set(float64(count))
}

// ObserveSQL records a database operation issued through the instrumented driver.
func ObserveSQL(op, method string, elapsed time.Duration) {
	sqlOpLatency.WithLabelValues(op, method).Observe(float64(elapsed.Milliseconds()))
	sqlOpTotal.WithLabelValues(op).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
