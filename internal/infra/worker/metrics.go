package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the maintenance worker.
// Instruments are registered on the default registry at construction via
// promauto.
type Metrics struct {
	// JobRunsTotal counts digest runs by status (success/failure).
	JobRunsTotal *prometheus.CounterVec

	// JobDurationSeconds measures digest run duration.
	JobDurationSeconds prometheus.Histogram

	// LastSuccessTimestamp is the Unix time of the last successful run.
	LastSuccessTimestamp prometheus.Gauge

	// MirrorRowsPrunedTotal counts circuit mirror rows removed by the
	// prune step.
	MirrorRowsPrunedTotal prometheus.Counter

	// ConfigFallbacksTotal counts configuration values replaced with
	// their defaults, by field.
	ConfigFallbacksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the worker metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		JobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_worker_job_runs_total",
			Help: "Total digest job runs by status",
		}, []string{"status"}),

		JobDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_worker_job_duration_seconds",
			Help:    "Duration of digest job runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120},
		}),

		LastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_worker_last_success_timestamp",
			Help: "Unix timestamp of the last successful digest run",
		}),

		MirrorRowsPrunedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_worker_mirror_rows_pruned_total",
			Help: "Total stale circuit mirror rows removed",
		}),

		ConfigFallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_worker_config_fallbacks_total",
			Help: "Total configuration values replaced with defaults, by field",
		}, []string{"field"}),
	}
}

// RecordJobRun increments the run counter for "success" or "failure".
func (m *Metrics) RecordJobRun(status string) {
	m.JobRunsTotal.WithLabelValues(status).Inc()
}

// RecordJobDuration observes one run's duration in seconds.
func (m *Metrics) RecordJobDuration(seconds float64) {
	m.JobDurationSeconds.Observe(seconds)
}

// RecordLastSuccess stamps the last successful run at now.
func (m *Metrics) RecordLastSuccess() {
	m.LastSuccessTimestamp.SetToCurrentTime()
}

// RecordMirrorRowsPruned adds the rows removed by one prune pass.
func (m *Metrics) RecordMirrorRowsPruned(count int64) {
	m.MirrorRowsPrunedTotal.Add(float64(count))
}

// RecordConfigFallback counts one field falling back to its default.
func (m *Metrics) RecordConfigFallback(field string) {
	m.ConfigFallbacksTotal.WithLabelValues(field).Inc()
}
