package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	// Tool invocation metrics
	ToolInvocationsTotal   *prometheus.CounterVec
	ToolInvocationDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter

	// Dependency metrics
	DegradationLevel    prometheus.Gauge
	ReasoningCallsTotal *prometheus.CounterVec
	AuditDropsTotal     prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Turn metrics
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turns_total",
				Help: "Total number of conversational turns",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turn_duration_seconds",
				Help:    "Duration of conversational turns in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		// Tool invocation metrics
		ToolInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocations_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolInvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_invocation_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		// Session metrics
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_evicted_total",
				Help: "Total number of sessions evicted",
			},
		),

		// Dependency metrics
		DegradationLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "degradation_level",
				Help: "Current degradation level (0=FULL, 1=TOOL_LESS, 2=STATIC, 3=UNAVAILABLE)",
			},
		),
		ReasoningCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reasoning_calls_total",
				Help: "Total number of reasoning service calls",
			},
			[]string{"provider", "status"},
		),
		AuditDropsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_drops_total",
				Help: "Total number of audit entries dropped",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	// Turn metrics
	m.registry.MustRegister(m.TurnsTotal)
	m.registry.MustRegister(m.TurnDuration)

	// Tool invocation metrics
	m.registry.MustRegister(m.ToolInvocationsTotal)
	m.registry.MustRegister(m.ToolInvocationDuration)

	// Session metrics
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsCreated)
	m.registry.MustRegister(m.SessionsEvicted)

	// Dependency metrics
	m.registry.MustRegister(m.DegradationLevel)
	m.registry.MustRegister(m.ReasoningCallsTotal)
	m.registry.MustRegister(m.AuditDropsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
