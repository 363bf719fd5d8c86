package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the keyword research service.
// Metrics are organized by subsystem: batches, jobs, remote research calls,
// eventual reads, and idempotency. Metrics created through NewMetrics are
// registered with the default Prometheus registry.
type Metrics struct {
	// BatchesSubmitted counts batches accepted for processing.
	BatchesSubmitted prometheus.Counter

	// BatchesCompleted counts batches whose queue drained without cancellation.
	BatchesCompleted prometheus.Counter

	// BatchesCancelled counts batches that finished after a cancel request.
	BatchesCancelled prometheus.Counter

	// BatchDuration observes wall-clock duration of batches in seconds.
	BatchDuration prometheus.Histogram

	// BatchSize observes the number of jobs per submitted batch.
	BatchSize prometheus.Histogram

	// JobsInFlight is the number of jobs currently in the processing state.
	JobsInFlight prometheus.Gauge

	// JobsStarted counts jobs dequeued by a worker.
	JobsStarted prometheus.Counter

	// JobsCompleted counts jobs that reached the completed state.
	JobsCompleted prometheus.Counter

	// JobsFailed counts failed jobs, labeled by the step that failed.
	JobsFailed *prometheus.CounterVec

	// JobDuration observes job duration in seconds, labeled by terminal state.
	JobDuration *prometheus.HistogramVec

	// ResultItems observes the number of research items per completed job.
	ResultItems prometheus.Histogram

	// PatchFailures counts best-effort status patches that failed.
	PatchFailures prometheus.Counter

	// RemoteRequestsTotal counts requests to the research API, labeled by operation.
	RemoteRequestsTotal *prometheus.CounterVec

	// RemoteRequestsFailed counts failed research API requests, labeled by operation and error type.
	RemoteRequestsFailed *prometheus.CounterVec

	// RemoteRequestDuration observes research API request duration in seconds.
	RemoteRequestDuration *prometheus.HistogramVec

	// RemoteRateLimited counts 429 responses from the research API.
	RemoteRateLimited prometheus.Counter

	// EventualReads counts retrying reads, labeled by result kind and outcome (ready, inconclusive).
	EventualReads *prometheus.CounterVec

	// EventualReadAttempts observes attempts used per retrying read, labeled by result kind.
	EventualReadAttempts *prometheus.HistogramVec

	// IdempotentReplays counts submissions answered from a stored idempotency key.
	IdempotentReplays prometheus.Counter

	// EventsPublished counts lifecycle events handed to the event publisher, labeled by event type and outcome.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Batches
		BatchesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Total number of keyword batches submitted",
		}),
		BatchesCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of keyword batches that ran to completion",
		}),
		BatchesCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_cancelled_total",
			Help:      "Total number of keyword batches cancelled",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of keyword batches in seconds",
			Buckets:   []float64{5, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_jobs",
			Help:      "Number of jobs per submitted batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		// Jobs
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		}),
		JobsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of jobs dequeued by a worker",
		}),
		JobsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed successfully",
		}),
		JobsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of failed jobs by step",
		}, []string{"step"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of jobs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180, 300, 600},
		}, []string{"state"}),
		ResultItems: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_result_items",
			Help:      "Number of research items returned per completed job",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		PatchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_patch_failures_total",
			Help:      "Total number of failed tracking record status patches",
		}),

		// Remote research API
		RemoteRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Total number of research API requests by operation",
		}, []string{"operation"}),
		RemoteRequestsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_failed_total",
			Help:      "Total number of failed research API requests",
		}, []string{"operation", "error_type"}),
		RemoteRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Duration of research API requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"operation"}),
		RemoteRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_rate_limited_total",
			Help:      "Total number of rate limited responses from the research API",
		}),

		// Eventual reads
		EventualReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventual_reads_total",
			Help:      "Total number of retrying result reads by kind and outcome",
		}, []string{"kind", "outcome"}),
		EventualReadAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eventual_read_attempts",
			Help:      "Attempts used per retrying result read",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}, []string{"kind"}),

		// Idempotency and events
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Total number of batch submissions answered from an idempotency key",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of lifecycle events published by type and outcome",
		}, []string{"event_type", "outcome"}),
	}
}

// RecordBatchSubmitted records an accepted batch and its size.
func (m *Metrics) RecordBatchSubmitted(jobCount int) {
	m.BatchesSubmitted.Inc()
	m.BatchSize.Observe(float64(jobCount))
}

// RecordBatchFinished records a finished batch.
func (m *Metrics) RecordBatchFinished(cancelled bool, durationSeconds float64) {
	if cancelled {
		m.BatchesCancelled.Inc()
	} else {
		m.BatchesCompleted.Inc()
	}
	m.BatchDuration.Observe(durationSeconds)
}

// RecordJobStarted records a dequeued job.
func (m *Metrics) RecordJobStarted() {
	m.JobsStarted.Inc()
	m.JobsInFlight.Inc()
}

// RecordJobCompleted records a completed job.
func (m *Metrics) RecordJobCompleted(itemCount int, durationSeconds float64) {
	m.JobsInFlight.Dec()
	m.JobsCompleted.Inc()
	m.ResultItems.Observe(float64(itemCount))
	m.JobDuration.WithLabelValues("completed").Observe(durationSeconds)
}

// RecordJobFailed records a failed job and the step it failed in.
func (m *Metrics) RecordJobFailed(step string, durationSeconds float64) {
	m.JobsInFlight.Dec()
	m.JobsFailed.WithLabelValues(step).Inc()
	m.JobDuration.WithLabelValues("error").Observe(durationSeconds)
}

// RecordPatchFailed records a failed best-effort status patch.
func (m *Metrics) RecordPatchFailed() {
	m.PatchFailures.Inc()
}

// RecordRemoteRequest records a request to the research API.
func (m *Metrics) RecordRemoteRequest(operation string, durationSeconds float64) {
	m.RemoteRequestsTotal.WithLabelValues(operation).Inc()
	m.RemoteRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordRemoteRequestFailed records a failed request to the research API.
func (m *Metrics) RecordRemoteRequestFailed(operation, errorType string) {
	m.RemoteRequestsFailed.WithLabelValues(operation, errorType).Inc()
}

// RecordRemoteRateLimited records a rate limit response from the research API.
func (m *Metrics) RecordRemoteRateLimited() {
	m.RemoteRateLimited.Inc()
}

// RecordEventualRead records the outcome of a retrying read.
func (m *Metrics) RecordEventualRead(kind string, ready bool, attempts int) {
	outcome := "inconclusive"
	if ready {
		outcome = "ready"
	}
	m.EventualReads.WithLabelValues(kind, outcome).Inc()
	m.EventualReadAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

// RecordIdempotentReplay records a submission served from an idempotency key.
func (m *Metrics) RecordIdempotentReplay() {
	m.IdempotentReplays.Inc()
}

// RecordEventPublished records a lifecycle event publish attempt.
func (m *Metrics) RecordEventPublished(eventType string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.EventsPublished.WithLabelValues(eventType, outcome).Inc()
}
