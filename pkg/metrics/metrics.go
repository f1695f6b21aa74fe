package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansInitiated tracks scan initiation attempts by outcome
	ScansInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptguard_scans_initiated_total",
			Help: "Total number of scan initiation requests by outcome",
		},
		[]string{"outcome"},
	)

	// JobsDequeued tracks jobs taken off the queue
	JobsDequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptguard_jobs_dequeued_total",
			Help: "Total number of scan jobs dequeued by workers",
		},
	)

	// JobsSkipped tracks dequeued jobs that were not processed
	JobsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptguard_jobs_skipped_total",
			Help: "Total number of dequeued jobs skipped by reason",
		},
		[]string{"reason"},
	)

	// ScansFinished tracks scans reaching a terminal state
	ScansFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptguard_scans_finished_total",
			Help: "Total number of scans reaching a terminal state",
		},
		[]string{"status"},
	)

	// AnalysisDuration tracks how long one analyzer run takes
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptguard_analysis_duration_seconds",
			Help:    "Duration of prompt analysis in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// JobsInFlight tracks jobs being processed right now
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptguard_jobs_in_flight",
			Help: "Number of scan jobs currently being processed",
		},
	)

	// QueueErrors tracks broker errors by operation
	QueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptguard_queue_errors_total",
			Help: "Total number of queue broker errors by operation",
		},
		[]string{"operation"},
	)

	// GenerationAPIDuration tracks text-generation API call duration
	GenerationAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptguard_generation_api_duration_seconds",
			Help:    "Duration of text-generation API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "status_code"},
	)

	// PollAttempts tracks the number of polls until a scan stops being observed
	PollAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptguard_poll_attempts",
			Help:    "Number of polling attempts per scan by outcome",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 60, 100},
		},
		[]string{"outcome"},
	)

	// RemediationsTotal tracks remediation requests by outcome
	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptguard_remediations_total",
			Help: "Total number of remediation requests by outcome",
		},
		[]string{"outcome"},
	)

	// DedupLookups tracks initiation dedup cache lookups by result
	DedupLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptguard_dedup_lookups_total",
			Help: "Total number of initiation dedup lookups by result (hit, miss)",
		},
		[]string{"result"},
	)
)

// RecordInitiation records the outcome of a scan initiation
func RecordInitiation(outcome string) {
	ScansInitiated.WithLabelValues(outcome).Inc()
}

// RecordJobSkipped records a dequeued job that was not processed
func RecordJobSkipped(reason string) {
	JobsSkipped.WithLabelValues(reason).Inc()
}

// RecordScanFinished records a terminal scan and how long its analysis took
func RecordScanFinished(status string, duration float64) {
	ScansFinished.WithLabelValues(status).Inc()
	AnalysisDuration.WithLabelValues(status).Observe(duration)
}

// RecordQueueError records a broker error
func RecordQueueError(operation string) {
	QueueErrors.WithLabelValues(operation).Inc()
}

// RecordGenerationAPIDuration records the duration of a text-generation API call
func RecordGenerationAPIDuration(backend string, statusCode int, duration float64) {
	GenerationAPIDuration.WithLabelValues(backend, fmt.Sprintf("%d", statusCode)).Observe(duration)
}

// RecordPollAttempts records how many polls a client made for one scan
func RecordPollAttempts(outcome string, attempts int) {
	PollAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

// RecordRemediation records the outcome of a remediation request
func RecordRemediation(outcome string) {
	RemediationsTotal.WithLabelValues(outcome).Inc()
}

// RecordDedupLookup records one dedup cache lookup
func RecordDedupLookup(hit bool) {
	if hit {
		DedupLookups.WithLabelValues("hit").Inc()
		return
	}
	DedupLookups.WithLabelValues("miss").Inc()
}
