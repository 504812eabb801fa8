package prometheus

import (
	"sync"
	"time"

	"esl-sync-service/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthErrorsCounter prometheus.Counter

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec

	// Sync queue metrics
	SyncItemsCounter   *prometheus.CounterVec
	SyncLatency        *prometheus.HistogramVec
	ClaimSkippedCount  prometheus.Counter
	QueueEnqueuedCount *prometheus.CounterVec

	// Price schedule metrics
	ScheduleRunsCounter *prometheus.CounterVec

	// Credential refresh metrics
	TokenRefreshCounter *prometheus.CounterVec

	// Outbound adapter metrics
	AdapterCallsCounter *prometheus.CounterVec

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics with configuration. Only the
// first call registers collectors.
func InitMetrics(config *config.Config) {
	initOnce.Do(func() {
		register(config.Metrics.Prefix)
	})
}

func register(prefix string) {
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthErrorsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of rejected admin API tokens",
		},
	)

	DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	SyncItemsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_sync_items_total",
			Help: "Sync queue items processed by outcome",
		},
		[]string{"operation", "outcome"},
	)

	SyncLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_sync_latency_seconds",
			Help:    "Latency of ESL calls made by the sync worker",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ClaimSkippedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_sync_claims_skipped_total",
			Help: "Queue items skipped because the claim lost or the product was busy",
		},
	)

	QueueEnqueuedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_sync_enqueued_total",
			Help: "Sync queue items enqueued by operation",
		},
		[]string{"operation"},
	)

	ScheduleRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_schedule_runs_total",
			Help: "Price schedule executions by outcome",
		},
		[]string{"outcome"},
	)

	TokenRefreshCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_token_refresh_total",
			Help: "Tenant credential refresh attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	AdapterCallsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_adapter_calls_total",
			Help: "Outbound catalog adapter calls by source and status class",
		},
		[]string{"source", "status"},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if DbOperationDuration == nil {
			return
		}
		DbOperationDuration.WithLabelValues(operationType).Observe(time.Since(startTime).Seconds())
	}
}

// RecordHTTPRequest records one served admin/webhook request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if HttpRequestsTotal == nil {
		return
	}
	HttpRequestsTotal.WithLabelValues(method, path, status).Inc()
	HttpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordAuthError increments the rejected token counter
func RecordAuthError() {
	if AuthErrorsCounter == nil {
		return
	}
	AuthErrorsCounter.Inc()
}

// RecordSyncItem records the outcome of one processed queue item
func RecordSyncItem(operation, outcome string, latency time.Duration) {
	if SyncItemsCounter == nil {
		return
	}
	SyncItemsCounter.WithLabelValues(operation, outcome).Inc()
	SyncLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordClaimSkipped increments the skipped claim counter
func RecordClaimSkipped() {
	if ClaimSkippedCount == nil {
		return
	}
	ClaimSkippedCount.Inc()
}

// RecordEnqueued increments the enqueue counter for an operation
func RecordEnqueued(operation string) {
	if QueueEnqueuedCount == nil {
		return
	}
	QueueEnqueuedCount.WithLabelValues(operation).Inc()
}

// RecordScheduleRun increments the schedule run counter
func RecordScheduleRun(outcome string) {
	if ScheduleRunsCounter == nil {
		return
	}
	ScheduleRunsCounter.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh increments the token refresh counter
func RecordTokenRefresh(source, outcome string) {
	if TokenRefreshCounter == nil {
		return
	}
	TokenRefreshCounter.WithLabelValues(source, outcome).Inc()
}

// RecordAdapterCall increments the adapter call counter
func RecordAdapterCall(source, status string) {
	if AdapterCallsCounter == nil {
		return
	}
	AdapterCallsCounter.WithLabelValues(source, status).Inc()
}
