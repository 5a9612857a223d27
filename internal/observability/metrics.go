package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Fokal.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Guard metrics.
	GuardDecisionsTotal *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Planning (LLM) metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Proposal lifecycle metrics.
	ProposalsTotal *prometheus.CounterVec

	// Shadow comparison metrics.
	ShadowComparisonsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		GuardDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Authorization guard decisions.",
		}, []string{"authority", "decision"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fokal",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total planning provider requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fokal",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Planning provider request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total planning provider tokens consumed.",
		}, []string{"provider", "direction"}),

		ProposalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "proposal",
			Name:      "events_total",
			Help:      "Proposal lifecycle events.",
		}, []string{"event"}),

		ShadowComparisonsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "shadow",
			Name:      "comparisons_total",
			Help:      "Shadow dual-execution comparisons.",
		}, []string{"result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fokal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fokal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fokal",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.GuardDecisionsTotal,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ProposalsTotal,
		m.ShadowComparisonsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// ToolExecuted implements tools.ExecutionObserver.
func (m *MetricsCollector) ToolExecuted(tool, outcome string) {
	m.ToolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
}

// GuardDecision records one authorization guard outcome.
func (m *MetricsCollector) GuardDecision(authority, decision string) {
	m.GuardDecisionsTotal.WithLabelValues(authority, decision).Inc()
}

// ShadowComparison records one dual-execution comparison result.
func (m *MetricsCollector) ShadowComparison(match bool) {
	result := "mismatch"
	if match {
		result = "match"
	}
	m.ShadowComparisonsTotal.WithLabelValues(result).Inc()
}
