// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the
// orchestrator.
//
// # Description
//
// Prometheus metrics for the ask pipeline: request counters, stream
// state, retrieval lane outcomes, cache effectiveness, safety findings,
// and persistence failures. Exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "sehat"

// Subsystem for ask-pipeline metrics
const askSubsystem = "ask"

// AskMetrics holds all Prometheus metrics for the ask pipeline.
//
// # Description
//
// Initialize once at startup via InitMetrics(). Handlers, the
// retrieval engine, the cache, and the persistence path all record
// through the DefaultMetrics singleton.
//
// # Thread Safety
//
// All operations are thread-safe.
type AskMetrics struct {
	// RequestsTotal counts ask requests by endpoint and status.
	// Labels: endpoint (sse, websocket, retrieve), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstChunkSeconds measures latency to the first chunk event.
	// Labels: endpoint
	TimeToFirstChunkSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and error code.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// HeartbeatsTotal counts keepalive heartbeats sent on idle streams.
	// Labels: endpoint
	HeartbeatsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client cancellations mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// RetrievalLaneTotal counts retrieval lane outcomes.
	// Labels: lane (vector, graph, fallback), outcome (hit, empty, error, skipped)
	RetrievalLaneTotal *prometheus.CounterVec

	// DegradedAnswersTotal counts answers produced with partial
	// retrieval context.
	DegradedAnswersTotal prometheus.Counter

	// CacheOpsTotal counts cache operations by driver and outcome.
	// Labels: driver (memory, redis, badger), outcome (hit, miss, degraded)
	CacheOpsTotal *prometheus.CounterVec

	// SafetyFindingsTotal counts safety scanner findings by category.
	// Labels: category (RED_FLAG, MENTAL_HEALTH, PREGNANCY)
	SafetyFindingsTotal *prometheus.CounterVec

	// PersistenceFailuresTotal counts background persistence failures
	// by stage.
	// Labels: stage (turn, memory_chunk, summary)
	PersistenceFailuresTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of AskMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AskMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Call once at startup.
//
// # Outputs
//
//   - *AskMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *AskMetrics {
	DefaultMetrics = &AskMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "requests_total",
				Help:      "Total ask requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TimeToFirstChunkSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first chunk event in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "heartbeats_total",
				Help:      "Total keepalive heartbeats sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		RetrievalLaneTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "retrieval",
				Name:      "lane_total",
				Help:      "Retrieval lane outcomes by lane and outcome",
			},
			[]string{"lane", "outcome"},
		),

		DegradedAnswersTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "retrieval",
				Name:      "degraded_answers_total",
				Help:      "Answers produced with partial retrieval context",
			},
		),

		CacheOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "ops_total",
				Help:      "Cache operations by driver and outcome",
			},
			[]string{"driver", "outcome"},
		),

		SafetyFindingsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "safety",
				Name:      "findings_total",
				Help:      "Safety scanner findings by category",
			},
			[]string{"category"},
		),

		PersistenceFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "persistence",
				Name:      "failures_total",
				Help:      "Background persistence failures by stage",
			},
			[]string{"stage"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeLLMError indicates generation backend failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeRetrievalError indicates both retrieval lanes failed.
	ErrorCodeRetrievalError ErrorCode = "retrieval_error"

	// ErrorCodeTranslation indicates translation failure.
	ErrorCodeTranslation ErrorCode = "translation"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a serving endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointSSE is the SSE ask streaming endpoint.
	EndpointSSE Endpoint = "sse"

	// EndpointWebSocket is the WebSocket ask mirror.
	EndpointWebSocket Endpoint = "websocket"

	// EndpointRetrieve is the non-streaming retrieval endpoint.
	EndpointRetrieve Endpoint = "retrieve"
)

// Retrieval lanes and outcomes for RetrievalLaneTotal labels.
const (
	LaneVector   = "vector"
	LaneGraph    = "graph"
	LaneFallback = "fallback"

	OutcomeHit     = "hit"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *AskMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records an error.
//
// # Inputs
//
//   - endpoint: The endpoint where the error occurred.
//   - code: The error type code.
func (m *AskMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *AskMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *AskMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstChunk records the first-chunk latency.
func (m *AskMetrics) RecordTimeToFirstChunk(endpoint Endpoint, seconds float64) {
	m.TimeToFirstChunkSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
//   - seconds: Total duration in seconds.
//   - success: Whether the stream completed successfully.
func (m *AskMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordHeartbeat records one keepalive heartbeat.
func (m *AskMetrics) RecordHeartbeat(endpoint Endpoint) {
	m.HeartbeatsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect records a client cancellation mid-stream.
func (m *AskMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordRetrievalLane records one retrieval lane outcome.
func (m *AskMetrics) RecordRetrievalLane(lane, outcome string) {
	m.RetrievalLaneTotal.WithLabelValues(lane, outcome).Inc()
}

// RecordDegradedAnswer records an answer built from partial context.
func (m *AskMetrics) RecordDegradedAnswer() {
	m.DegradedAnswersTotal.Inc()
}

// RecordCacheOp records one cache operation outcome.
func (m *AskMetrics) RecordCacheOp(driver, outcome string) {
	m.CacheOpsTotal.WithLabelValues(driver, outcome).Inc()
}

// RecordSafetyFinding records one fired safety category.
func (m *AskMetrics) RecordSafetyFinding(category string) {
	m.SafetyFindingsTotal.WithLabelValues(category).Inc()
}

// RecordPersistenceFailure records a background persistence failure.
func (m *AskMetrics) RecordPersistenceFailure(stage string) {
	m.PersistenceFailuresTotal.WithLabelValues(stage).Inc()
}
