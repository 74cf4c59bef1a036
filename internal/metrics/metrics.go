// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus metrics collection and export.
//
// Collectors are registered with the default registry via promauto and
// exposed at the /metrics endpoint in Prometheus text format. They cover
// the full pipeline: ingestion throughput, detection ticks, model training,
// alerting, persistence, and the HTTP and WebSocket surfaces.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of events accepted by the ingestion gateway",
		},
		[]string{"transport"}, // "http", "tcp"
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_rejected_total",
			Help: "Total number of events rejected at ingestion",
		},
		[]string{"transport", "reason"}, // reason: "parse", "validation", "store"
	)

	IngestBatchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_payload_bytes",
			Help:    "Size of ingested event payloads in bytes",
			Buckets: []float64{64, 128, 256, 512, 1024, 4096, 16384},
		},
	)

	TCPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_tcp_connections",
			Help: "Current number of open TCP gateway connections",
		},
	)

	// Event Store Metrics
	EventStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_events",
			Help: "Total number of events in the ordered event store",
		},
	)

	// Detection Metrics
	DetectionTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_ticks_total",
			Help: "Total number of detection loop ticks",
		},
		[]string{"outcome"}, // "scored", "trained", "idle", "skipped", "error"
	)

	DetectionTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detection_tick_duration_seconds",
			Help:    "Duration of detection loop ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detection_events_scored_total",
			Help: "Total number of events scored against the model",
		},
	)

	DetectionCursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detection_cursor",
			Help: "Index of the last event consumed by the detection loop",
		},
	)

	// Model Metrics
	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_training_runs_total",
			Help: "Total number of model training attempts",
		},
		[]string{"result"}, // "success", "insufficient_data", "error"
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_training_duration_seconds",
			Help:    "Duration of model training in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	ModelGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_generation",
			Help: "Generation number of the currently published model snapshot",
		},
	)

	ModelThreshold = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_threshold",
			Help: "Alert threshold of the currently published model snapshot",
		},
	)

	// Alert Metrics
	AlertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_raised_total",
			Help: "Total number of anomaly alerts raised",
		},
	)

	AlertPersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_persist_errors_total",
			Help: "Total number of alert persistence failures",
		},
	)

	AlertNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_notifications_total",
			Help: "Total number of alert notification attempts",
		},
		[]string{"notifier", "result"}, // result: "success", "failure", "rejected"
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Total number of WebSocket messages dropped (slow client)",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordDBQuery records duration and outcome of a database query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request with its response status.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTrainingRun records a training attempt and, on success, the
// published generation and threshold.
func RecordTrainingRun(result string, duration time.Duration, generation uint64, threshold float64) {
	TrainingRuns.WithLabelValues(result).Inc()
	if result == "success" {
		TrainingDuration.Observe(duration.Seconds())
		ModelGeneration.Set(float64(generation))
		ModelThreshold.Set(threshold)
	}
}

// RecordNotification records one alert notification attempt.
func RecordNotification(notifier string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	AlertNotifications.WithLabelValues(notifier, result).Inc()
}
