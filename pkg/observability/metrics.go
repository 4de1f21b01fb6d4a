// Package observability exposes the runtime's Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the runtime's instruments. Create one per process and
// share it; all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	sessionsTotal  *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	replansTotal   prometheus.Counter
	strikesTotal   prometheus.Counter
	tokensTotal    *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	llmDuration    prometheus.Histogram
}

// New creates the metric set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strider_sessions_total",
			Help: "Sessions by execution path and final status.",
		}, []string{"path", "status"}),
		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strider_tool_calls_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strider_failures_total",
			Help: "Failure signals by type.",
		}, []string{"type"}),
		replansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "strider_replans_total",
			Help: "Plan revisions applied.",
		}),
		strikesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "strider_three_strikes_total",
			Help: "Times the three-strike rule halted a loop.",
		}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strider_llm_tokens_total",
			Help: "Tokens consumed by direction.",
		}, []string{"direction"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "strider_task_duration_seconds",
			Help:    "Wall-clock duration of task executions.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "strider_llm_call_duration_seconds",
			Help:    "Latency of LLM completions.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionFinished records a completed session.
func (m *Metrics) SessionFinished(path, status string) {
	m.sessionsTotal.WithLabelValues(path, status).Inc()
}

// ToolCall records one tool execution.
func (m *Metrics) ToolCall(tool string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// Failure records a failure signal.
func (m *Metrics) Failure(failureType string) {
	m.failuresTotal.WithLabelValues(failureType).Inc()
}

// Replan records an applied plan revision.
func (m *Metrics) Replan() { m.replansTotal.Inc() }

// ThreeStrike records a halted loop.
func (m *Metrics) ThreeStrike() { m.strikesTotal.Inc() }

// Tokens records LLM token consumption.
func (m *Metrics) Tokens(input, output int) {
	m.tokensTotal.WithLabelValues("input").Add(float64(input))
	m.tokensTotal.WithLabelValues("output").Add(float64(output))
}

// TaskDuration records a task execution duration.
func (m *Metrics) TaskDuration(d time.Duration) {
	m.taskDuration.Observe(d.Seconds())
}

// LLMDuration records an LLM call latency.
func (m *Metrics) LLMDuration(d time.Duration) {
	m.llmDuration.Observe(d.Seconds())
}
