// Package metrics declares the Prometheus instruments shared by the worker,
// scheduler, recovery, and webhook loops. promauto registers everything with
// the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- Job metrics ---

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of job executions by terminal outcome",
		},
		[]string{"type", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskforge",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of handler invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5m
		},
		[]string{"type"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total number of retry transitions",
		},
		[]string{"type"},
	)

	DeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "jobs",
			Name:      "dead_lettered_total",
			Help:      "Total number of jobs moved to the dead-letter store",
		},
	)

	// --- Queue metrics ---

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskforge",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Cardinality of each queue index",
		},
		[]string{"index"},
	)

	DelayedPromotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "queue",
			Name:      "promotions_total",
			Help:      "Total number of delayed jobs promoted to the ready index",
		},
	)

	// --- Worker metrics ---

	WorkerHeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats written",
		},
	)

	WorkerJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskforge",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed by this worker",
		},
	)

	// --- Scheduler metrics ---

	SchedulesFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "scheduler",
			Name:      "fired_total",
			Help:      "Total jobs created from due schedules",
		},
	)

	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskforge",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between a schedule's fire time and job creation",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// --- Recovery metrics ---

	OrphansRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "recovery",
			Name:      "orphans_total",
			Help:      "Total orphaned jobs reclaimed from dead workers",
		},
	)

	StaleWorkersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "recovery",
			Name:      "stale_workers_total",
			Help:      "Total workers marked stopped by orphan recovery",
		},
	)

	// --- Webhook metrics ---

	WebhookAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskforge",
			Subsystem: "webhook",
			Name:      "attempts_total",
			Help:      "Total webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// SetQueueDepths updates the queue depth gauges from one stats read.
func SetQueueDepths(ready, delayed, processing, deadLetter int64) {
	QueueDepth.WithLabelValues("ready").Set(float64(ready))
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	QueueDepth.WithLabelValues("processing").Set(float64(processing))
	QueueDepth.WithLabelValues("deadletter").Set(float64(deadLetter))
}
