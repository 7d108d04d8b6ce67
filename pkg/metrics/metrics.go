// Package metrics provides Prometheus metrics for the partnermap service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks inbound API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "partnermap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// BatchRowsTotal counts uploaded rows by validation result
	BatchRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "batch",
			Name:      "rows_total",
			Help:      "Total number of uploaded rows by validation result",
		},
		[]string{"result"},
	)

	// BatchTransitionsTotal counts batch status changes
	BatchTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "batch",
			Name:      "transitions_total",
			Help:      "Total number of batch status transitions",
		},
		[]string{"status"},
	)

	// AnalyzerDuration tracks a full deduplication analysis of one batch
	AnalyzerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "partnermap",
			Subsystem: "analyzer",
			Name:      "duration_seconds",
			Help:      "Duration of batch deduplication analysis in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// AnalyzerMatchesTotal counts reported matches by confidence tier
	AnalyzerMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "analyzer",
			Name:      "matches_total",
			Help:      "Total number of duplicate candidates reported by confidence",
		},
		[]string{"confidence"},
	)

	// DecisionsTotal counts processed decisions
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Name:      "decisions_total",
			Help:      "Total number of deduplication decisions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// MergesTotal counts applied consolidation merges
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "consolidation",
			Name:      "merges_total",
			Help:      "Total number of consolidation merges by kind",
		},
		[]string{"kind"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "partnermap",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// GraphWritesTotal tracks graph projection writes
	GraphWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "graph",
			Name:      "writes_total",
			Help:      "Total number of graph projection writes",
		},
		[]string{"operation", "status"},
	)

	// RedisOperationDuration tracks Redis operation duration
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "partnermap",
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"operation"},
	)

	// LockContentionTotal counts lock waits that timed out
	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "partnermap",
			Subsystem: "redis",
			Name:      "lock_contention_total",
			Help:      "Total number of distributed lock acquisitions that timed out",
		},
		[]string{"kind"},
	)
)

// RecordHTTPRequest records an inbound request metric
func RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordBatchRows records the validation split of one upload
func RecordBatchRows(valid, invalid int) {
	BatchRowsTotal.WithLabelValues("valid").Add(float64(valid))
	BatchRowsTotal.WithLabelValues("invalid").Add(float64(invalid))
}

func RecordBatchTransition(status string) {
	BatchTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordDecision(action, outcome string) {
	DecisionsTotal.WithLabelValues(action, outcome).Inc()
}

func RecordMerge(kind string) {
	MergesTotal.WithLabelValues(kind).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

func RecordGraphWrite(operation, status string) {
	GraphWritesTotal.WithLabelValues(operation, status).Inc()
}
