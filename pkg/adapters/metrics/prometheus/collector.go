package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	runsSubmitted *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	nodesExecuted *prometheus.CounterVec
	nodeRetries   prometheus.Counter

	runDuration  prometheus.Histogram
	nodeDuration prometheus.Histogram
	limiterWait  prometheus.Histogram

	activeRuns    prometheus.Gauge
	nodesInFlight prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector and registers
// its metrics with the default registerer.
func NewCollector() *Collector {
	return &Collector{
		runsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_runs_completed_total",
				Help: "Total number of runs finished, by outcome",
			},
			[]string{"status"},
		),
		nodesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_nodes_executed_total",
				Help: "Total number of node executions, by outcome",
			},
			[]string{"status"},
		),
		nodeRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gantry_node_retries_total",
				Help: "Total number of node retry attempts",
			},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gantry_run_duration_seconds",
				Help:    "Run execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		nodeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gantry_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		limiterWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gantry_limiter_wait_seconds",
				Help:    "Time spent waiting for a concurrency permit",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		activeRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gantry_active_runs",
				Help: "Number of currently registered runs",
			},
		),
		nodesInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gantry_nodes_in_flight",
				Help: "Number of node bodies currently executing",
			},
		),
	}
}

// RecordRunSubmitted records a run submission.
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted records a finished run and its duration.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordNodeExecuted records a node execution and its duration.
func (c *Collector) RecordNodeExecuted(status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(status).Inc()
	c.nodeDuration.Observe(duration.Seconds())
}

// RecordNodeRetry records a retry attempt.
func (c *Collector) RecordNodeRetry() {
	c.nodeRetries.Inc()
}

// SetActiveRuns sets the number of currently registered runs.
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// SetNodesInFlight sets the number of node bodies currently executing.
func (c *Collector) SetNodesInFlight(count int) {
	c.nodesInFlight.Set(float64(count))
}

// ObserveLimiterWait records time spent waiting for a concurrency permit.
func (c *Collector) ObserveLimiterWait(duration time.Duration) {
	c.limiterWait.Observe(duration.Seconds())
}
