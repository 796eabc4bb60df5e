// Package metrics provides Prometheus metrics for PrepOS monitoring.
// Exports HTTP, model invocation, agent and pipeline metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for PrepOS
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// Model invocation metrics
	AIRequestsTotal    *prometheus.CounterVec
	AIRequestDuration  *prometheus.HistogramVec
	AITokensUsed       *prometheus.CounterVec
	AIRetriesTotal     *prometheus.CounterVec
	AIRateLimitWait    prometheus.Histogram
	AIRequestsInFlight prometheus.Gauge

	// Agent metrics
	AgentRunsTotal      *prometheus.CounterVec
	AgentFallbacksTotal *prometheus.CounterVec

	// Pipeline metrics
	PipelineRunsTotal    *prometheus.CounterVec
	PipelineDuration     prometheus.Histogram
	PipelineJobsInFlight prometheus.Gauge

	// WebSocket Metrics
	WebSocketConnectionsGauge prometheus.Gauge
	WebSocketMessagesTotal    prometheus.Counter
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prepos",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prepos",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prepos",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"endpoint"},
	)

	m.AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total model calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	m.AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prepos",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "Duration of a single model call in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		},
		[]string{"model"},
	)

	m.AITokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "ai",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model provider",
		},
		[]string{"model", "type"},
	)

	m.AIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "ai",
			Name:      "retries_total",
			Help:      "Retryable model failures by model and error code",
		},
		[]string{"model", "code"},
	)

	m.AIRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "prepos",
			Subsystem: "ai",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time callers spent waiting for a rate limiter token",
			Buckets:   []float64{0, .1, .5, 1, 2, 4, 8, 16, 32},
		},
	)

	m.AIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prepos",
			Subsystem: "ai",
			Name:      "requests_in_flight",
			Help:      "Model calls currently awaiting a response",
		},
	)

	m.AgentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Agent task runs by agent and result status",
		},
		[]string{"agent", "status"},
	)

	m.AgentFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "agent",
			Name:      "fallbacks_total",
			Help:      "Agent runs that returned the degraded fallback payload",
		},
		[]string{"agent"},
	)

	m.PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Analysis pipeline runs by final status",
		},
		[]string{"status"},
	)

	m.PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "prepos",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end analysis pipeline duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	m.PipelineJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prepos",
			Subsystem: "pipeline",
			Name:      "jobs_in_flight",
			Help:      "Analysis jobs currently running",
		},
	)

	m.WebSocketConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prepos",
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open job status streams",
		},
	)

	m.WebSocketMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prepos",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Job snapshots pushed over status streams",
		},
	)

	return m
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordAIRequest records a single model call. outcome is "success" or an error code.
func (m *Metrics) RecordAIRequest(model, outcome string, duration time.Duration, inputTokens, outputTokens int) {
	model = sanitizeLabel(model, "unknown")
	m.AIRequestsTotal.WithLabelValues(model, sanitizeLabel(outcome, "unknown")).Inc()
	m.AIRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.AITokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.AITokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordAIRetry counts a retryable failure that led to another attempt
func (m *Metrics) RecordAIRetry(model, code string) {
	m.AIRetriesTotal.WithLabelValues(sanitizeLabel(model, "unknown"), sanitizeLabel(code, "unknown")).Inc()
}

// RecordRateLimitWait observes time spent blocked on the limiter
func (m *Metrics) RecordRateLimitWait(d time.Duration) {
	m.AIRateLimitWait.Observe(d.Seconds())
}

// RecordAgentRun records an agent task result
func (m *Metrics) RecordAgentRun(agent, status string, fallback bool) {
	agent = sanitizeLabel(agent, "unknown")
	m.AgentRunsTotal.WithLabelValues(agent, sanitizeLabel(status, "unknown")).Inc()
	if fallback {
		m.AgentFallbacksTotal.WithLabelValues(agent).Inc()
	}
}

// RecordPipelineRun records a finished pipeline execution
func (m *Metrics) RecordPipelineRun(status string, duration time.Duration) {
	m.PipelineRunsTotal.WithLabelValues(sanitizeLabel(status, "unknown")).Inc()
	m.PipelineDuration.Observe(duration.Seconds())
}

// RecordWebSocketConnection tracks stream open (+1) and close (-1)
func (m *Metrics) RecordWebSocketConnection(delta int) {
	m.WebSocketConnectionsGauge.Add(float64(delta))
}
