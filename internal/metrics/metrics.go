// Package metrics exposes Prometheus collectors for the sync core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	telemetryEventsTotal   prometheus.Counter
	telemetryBatchesTotal  *prometheus.CounterVec
	telemetryQueueDepth    prometheus.Gauge
	refreshJobsTotal       *prometheus.CounterVec
	refreshRowsTotal       *prometheus.CounterVec
	refreshJobDurationSecs prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		telemetryEventsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listsync_telemetry_events_total",
				Help: "Total number of telemetry events accepted by the batcher.",
			},
		)

		telemetryBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listsync_telemetry_batches_total",
				Help: "Total number of batch flush attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		telemetryQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "listsync_telemetry_queue_depth",
				Help: "Current number of events waiting in the live queue.",
			},
		)

		refreshJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listsync_refresh_jobs_total",
				Help: "Total number of refresh jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		refreshRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listsync_refresh_rows_total",
				Help: "Total rows processed by refresh jobs, labeled by result.",
			},
			[]string{"result"},
		)

		refreshJobDurationSecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "listsync_refresh_job_duration_seconds",
				Help:    "Histogram of refresh job wall time.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)
	})
}

// IncEventTracked records one accepted telemetry event.
func IncEventTracked() {
	if telemetryEventsTotal != nil {
		telemetryEventsTotal.Inc()
	}
}

// IncBatchFlush records one flush attempt with the given outcome
// ("delivered" or "failed").
func IncBatchFlush(outcome string) {
	if telemetryBatchesTotal != nil {
		telemetryBatchesTotal.WithLabelValues(outcome).Inc()
	}
}

// SetQueueDepth publishes the live queue length.
func SetQueueDepth(depth int) {
	if telemetryQueueDepth != nil {
		telemetryQueueDepth.Set(float64(depth))
	}
}

// IncJobTerminal records a job reaching the given terminal status.
func IncJobTerminal(status string) {
	if refreshJobsTotal != nil {
		refreshJobsTotal.WithLabelValues(status).Inc()
	}
}

// IncRowProcessed records one processed row ("resolved" or "unresolved").
func IncRowProcessed(result string) {
	if refreshRowsTotal != nil {
		refreshRowsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveJobDuration records how long a job ran.
func ObserveJobDuration(d time.Duration) {
	if refreshJobDurationSecs != nil {
		refreshJobDurationSecs.Observe(d.Seconds())
	}
}
