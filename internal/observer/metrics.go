package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "org_id", "consumer_type"}
	// Labels for attribution computation metrics
	attributionLabels = []string{"org_id", "model_type"}
	// Labels for tenant-only metrics
	orgLabels = []string{"org_id"}

	// Standard Event Counters
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_events_received_total",
			Help: "Total number of events received from NATS, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_events_processed_total",
			Help: "Total number of events successfully processed and acknowledged, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_events_failed_total",
			Help: "Total number of events that failed processing (resulting in Nack or error), labeled by consumer type.",
		},
		eventProcessingLabels,
	)

	// Histogram for end-to-end event processing duration
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attribution_engine_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	// Histogram for router dispatch duration
	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attribution_engine_event_routing_duration_seconds",
			Help:    "Histogram of event routing durations (handler dispatch and execution).",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		eventProcessingLabels,
	)

	// Counter for per-message ack/nak/DLQ outcomes
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_event_processing_actions_total",
			Help: "Total number of message processing outcomes (ack, nak, DLQ), labeled by action and error category.",
		},
		[]string{"event_type", "org_id", "consumer_type", "action", "error_type"},
	)
)

// Domain counters for the tracker and attribution engine
var (
	TouchpointsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_touchpoints_created_total",
			Help: "Total number of touchpoints recorded, labeled by organization.",
		},
		orgLabels,
	)
	ConversionsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_conversions_recorded_total",
			Help: "Total number of conversion events recorded, labeled by organization.",
		},
		orgLabels,
	)
	AttributionComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_attribution_computations_total",
			Help: "Total number of attribution computations performed, labeled by model type.",
		},
		attributionLabels,
	)
	AttributionComputationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attribution_engine_attribution_computation_duration_seconds",
			Help:    "Histogram of attribution computation durations, including persistence.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		attributionLabels,
	)
	EventDedupeCacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_event_dedupe_cache_checks_total",
			Help: "Total number of event dedupe cache checks, labeled by result (hit/miss).",
		},
		[]string{"org_id", "result"},
	)
)

// MMM training metrics
var (
	mmmTrainingLabels = []string{"org_id", "status"}

	MMMTrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_mmm_training_runs_total",
			Help: "Total number of marketing mix model training runs, labeled by final status.",
		},
		mmmTrainingLabels,
	)
	MMMTrainingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attribution_engine_mmm_training_duration_seconds",
			Help:    "Histogram of marketing mix model training durations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		orgLabels,
	)
)

// Metrics related to DLQ processing
var (
	dlqFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_fetch_requests_total",
		Help: "Total number of fetch requests made to the DLQ stream.",
	})
	dlqFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_fetch_errors_total",
		Help: "Total number of errors encountered during DLQ fetch requests.",
	})
	dlqQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dlq_queue_length",
		Help: "Current number of messages waiting in the internal DLQ worker channel.",
	})
	dlqWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dlq_workers_active",
		Help: "Current number of active worker goroutines in the DLQ pool.",
	})

	dlqTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_tasks_submitted_total",
			Help: "Total number of tasks submitted to the DLQ worker pool.",
		},
		orgLabels,
	)
	dlqProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlq_processing_duration_seconds",
			Help:    "Histogram of processing durations for DLQ messages.",
			Buckets: prometheus.DefBuckets,
		},
		orgLabels,
	)
	dlqTaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_task_retries_total",
			Help: "Total number of retry attempts (NAKs with delay) for DLQ messages.",
		},
		orgLabels,
	)
	dlqAcksSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_acks_success_total",
			Help: "Total number of successful acknowledgements (ACKs) for DLQ messages.",
		},
		orgLabels,
	)
	dlqAcksFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_acks_failure_total",
			Help: "Total number of failed acknowledgements (NAKs, Term) for DLQ messages (excluding retries).",
		},
		orgLabels,
	)
	dlqTasksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_tasks_dropped_total",
			Help: "Total number of DLQ messages dropped after exceeding max retries.",
		},
		orgLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "org_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attribution_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Worker pool metrics shared by the attribution and training pools
var (
	poolLabels       = []string{"pool"}
	poolStatusLabels = []string{"pool", "org_id", "status"}

	WorkerPoolTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_worker_pool_tasks_submitted_total",
			Help: "Total number of tasks submitted to a worker pool.",
		},
		poolLabels,
	)
	WorkerPoolTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_engine_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by a worker pool, labeled by final status.",
		},
		poolStatusLabels,
	)
	WorkerPoolQueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attribution_engine_worker_pool_queue_length",
			Help: "Approximate number of tasks waiting in a worker pool queue.",
		},
		poolLabels,
	)
	WorkerPoolWorkersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attribution_engine_worker_pool_workers_active",
			Help: "Current number of running workers in a worker pool.",
		},
		poolLabels,
	)
)

// InitMetrics toggles metric collection. Metrics are auto-registered via
// promauto; this only flips the guard checked by the helper functions.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, org, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeOrg(org), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, org, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeOrg(org), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, org, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeOrg(org), consumerType).Inc()
}

// ObserveEventProcessingDuration records an end-to-end processing duration.
func ObserveEventProcessingDuration(eventType, org, consumerType string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeOrg(org), consumerType).Observe(d.Seconds())
}

// ObserveEventRoutingDuration records the routing time for a specific event.
func ObserveEventRoutingDuration(eventType, org, consumerType string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeOrg(org), consumerType).Observe(d.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, org, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeOrg(org), consumerType, action, SanitizeErrorType(errorType)).Inc()
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	// Already-normalized categories pass through untouched.
	switch errStr {
	case "database", "validation", "not_found", "unauthorized", "conflict",
		"timeout", "nats", "unmarshal", "panic", "unknown",
		"dlq_marshal_fail", "dlq_publish_fail", "metadata", "unknown_event_type":
		return errStr
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// IncTouchpointsCreated increments the touchpoints created counter.
func IncTouchpointsCreated(org string) {
	if !metricsEnabled {
		return
	}
	TouchpointsCreatedTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// IncConversionsRecorded increments the conversions recorded counter.
func IncConversionsRecorded(org string) {
	if !metricsEnabled {
		return
	}
	ConversionsRecordedTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// ObserveAttributionComputation records one attribution computation.
func ObserveAttributionComputation(org, modelType string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	AttributionComputationsTotal.WithLabelValues(sanitizeOrg(org), modelType).Inc()
	AttributionComputationDurationSeconds.WithLabelValues(sanitizeOrg(org), modelType).Observe(d.Seconds())
}

// IncDedupeCacheCheck records one dedupe cache lookup with its result.
func IncDedupeCacheCheck(org string, hit bool) {
	if !metricsEnabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	EventDedupeCacheChecksTotal.WithLabelValues(sanitizeOrg(org), result).Inc()
}

// ObserveMMMTraining records one model training run with its outcome.
func ObserveMMMTraining(org, status string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	MMMTrainingRunsTotal.WithLabelValues(sanitizeOrg(org), status).Inc()
	MMMTrainingDurationSeconds.WithLabelValues(sanitizeOrg(org)).Observe(d.Seconds())
}

// ObserveDbOperationDuration records a database operation duration. The
// status label is derived from err.
func ObserveDbOperationDuration(operation, entity, org string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeOrg(org), status).Observe(d.Seconds())
}

// sanitizeOrg ensures the org label is valid or returns a default value.
func sanitizeOrg(org string) string {
	if org == "" {
		return "unknown"
	}
	return org
}

// --- DLQ Metric Helpers ---

// IncDlqFetchRequest increments the DLQ fetch request counter.
func IncDlqFetchRequest() {
	if !metricsEnabled {
		return
	}
	dlqFetchRequestsTotal.Inc()
}

// IncDlqFetchError increments the DLQ fetch error counter.
func IncDlqFetchError() {
	if !metricsEnabled {
		return
	}
	dlqFetchErrorsTotal.Inc()
}

// SetDlqQueueLength sets the current DLQ internal queue length.
func SetDlqQueueLength(length int) {
	if !metricsEnabled {
		return
	}
	dlqQueueLength.Set(float64(length))
}

// SetDlqWorkersActive sets the current number of active DLQ workers.
func SetDlqWorkersActive(count int) {
	if !metricsEnabled {
		return
	}
	dlqWorkersActive.Set(float64(count))
}

// IncDlqTaskSubmitted increments the DLQ tasks submitted counter.
func IncDlqTaskSubmitted(org string) {
	if !metricsEnabled {
		return
	}
	dlqTasksSubmittedTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// ObserveDlqProcessingDuration records a DLQ message processing duration.
func ObserveDlqProcessingDuration(org string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	dlqProcessingDurationSeconds.WithLabelValues(sanitizeOrg(org)).Observe(d.Seconds())
}

// IncDlqTaskRetry increments the DLQ task retry counter.
func IncDlqTaskRetry(org string) {
	if !metricsEnabled {
		return
	}
	dlqTaskRetriesTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// IncDlqAckSuccess increments the DLQ successful ack counter.
func IncDlqAckSuccess(org string) {
	if !metricsEnabled {
		return
	}
	dlqAcksSuccessTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// IncDlqAckFailure increments the DLQ failed ack counter.
func IncDlqAckFailure(org string) {
	if !metricsEnabled {
		return
	}
	dlqAcksFailureTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// IncDlqTaskDropped increments the DLQ dropped message counter.
func IncDlqTaskDropped(org string) {
	if !metricsEnabled {
		return
	}
	dlqTasksDroppedTotal.WithLabelValues(sanitizeOrg(org)).Inc()
}

// --- Worker Pool Metric Helpers ---

// IncPoolTaskSubmitted increments the submitted counter for a pool.
func IncPoolTaskSubmitted(pool string) {
	if !metricsEnabled {
		return
	}
	WorkerPoolTasksSubmittedTotal.WithLabelValues(pool).Inc()
}

// IncPoolTaskProcessed increments the processed counter for a pool.
func IncPoolTaskProcessed(pool, org, status string) {
	if !metricsEnabled {
		return
	}
	WorkerPoolTasksProcessedTotal.WithLabelValues(pool, sanitizeOrg(org), status).Inc()
}

// SetPoolQueueLength sets the queue gauge for a pool.
func SetPoolQueueLength(pool string, length int) {
	if !metricsEnabled {
		return
	}
	WorkerPoolQueueLength.WithLabelValues(pool).Set(float64(length))
}

// SetPoolWorkersActive sets the running-worker gauge for a pool.
func SetPoolWorkersActive(pool string, count int) {
	if !metricsEnabled {
		return
	}
	WorkerPoolWorkersActive.WithLabelValues(pool).Set(float64(count))
}
