// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks messages appended per company and role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_messages_total",
			Help: "Total conversation messages appended",
		},
		[]string{"company_id", "role"},
	)

	// ConversationsTotal tracks conversations created per company.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_conversations_total",
			Help: "Total conversations created",
		},
		[]string{"company_id"},
	)

	// AIResponsesTotal tracks AI completions by model and outcome.
	// Outcome is one of: answered, escalated, failed.
	AIResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_ai_responses_total",
			Help: "Total AI response attempts by outcome",
		},
		[]string{"model", "outcome"},
	)

	// AIResponseDuration tracks LLM completion latency.
	AIResponseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_ai_response_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"model"},
	)

	// AITokensTotal tracks LLM tokens processed.
	AITokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_ai_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// HandoffsTotal tracks AI-to-human handoffs by reason category.
	HandoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_handoffs_total",
			Help: "Total conversations handed off to the agent queue",
		},
		[]string{"reason"},
	)

	// RateLimitBlocksTotal tracks rate limiter rejections.
	RateLimitBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_rate_limit_blocks_total",
			Help: "Total requests rejected by the rate limiter",
		},
		[]string{"limit_type"},
	)

	// PresenceRecordsActive tracks currently live presence records.
	PresenceRecordsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_presence_records_active",
			Help: "Number of unexpired presence records",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SchedulerJobRuns tracks background job executions.
	SchedulerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_scheduler_job_runs_total",
			Help: "Background job executions by job and result",
		},
		[]string{"job", "result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAIResponse records metrics for an LLM completion attempt.
func RecordAIResponse(model, outcome string, duration float64, tokensIn, tokensOut int) {
	AIResponsesTotal.WithLabelValues(model, outcome).Inc()
	AIResponseDuration.WithLabelValues(model).Observe(duration)
	AITokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	AITokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
