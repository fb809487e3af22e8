package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vinodismyname/mcpsheets/internal/eval"
)

// Metrics holds the Prometheus collectors for tool calls and expression evaluation.
type Metrics struct {
	reg          *prometheus.Registry
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	evalRows     *prometheus.CounterVec
	evalErrors   *prometheus.CounterVec
	evalDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpsheets_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome",
		}, []string{"tool", "is_error"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpsheets_tool_call_duration_seconds",
			Help:    "Tool call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		evalRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpsheets_evaluated_rows_total",
			Help: "Rows passed through caller-supplied expressions",
		}, []string{"op", "language"}),
		evalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpsheets_evaluation_errors_total",
			Help: "Rows whose expression threw and were skipped",
		}, []string{"op", "language"}),
		evalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpsheets_evaluation_duration_seconds",
			Help:    "Time spent evaluating expressions per operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "language"}),
	}
}

// ObserveToolCall records one completed tool call.
func (m *Metrics) ObserveToolCall(tool string, isError bool, elapsed time.Duration) {
	if tool == "" {
		tool = "unknown"
	}
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(isError)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveEvaluation records one evaluated operation.
func (m *Metrics) ObserveEvaluation(op string, language eval.Dialect, rows, failures int, elapsed time.Duration) {
	lang := string(language)
	m.evalRows.WithLabelValues(op, lang).Add(float64(rows))
	m.evalErrors.WithLabelValues(op, lang).Add(float64(failures))
	m.evalDuration.WithLabelValues(op, lang).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns the Prometheus HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
