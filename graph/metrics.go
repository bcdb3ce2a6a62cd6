package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects decision workflow metrics.
//
// Metrics exposed (all namespaced with "incident_"):
//
//  1. inflight_requests (gauge): requests currently running.
//  2. step_latency_ms (histogram): step duration. Labels: step, status.
//  3. retries_total (counter): external call retries. Labels: step, reason.
//  4. warnings_total (counter): recoverable step failures. Labels: step.
//  5. decisions_total (counter): finished requests. Labels: outcome.
//  6. spans_dropped_total (counter): spans dropped on export queue overflow.
//  7. llm_tokens_total (counter): completion tokens. Labels: step, direction.
//  8. llm_cost_usd_total (counter): estimated completion cost. Labels: step.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//	engine, err := New(WithMetrics(metrics), ...)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use and safe on a nil receiver.
type PrometheusMetrics struct {
	inflight     prometheus.Gauge
	stepLatency  *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	warnings     *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	spansDropped prometheus.Counter
	tokens       *prometheus.CounterVec
	cost         *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all metrics with registry. A
// nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "incident",
			Name:      "inflight_requests",
			Help:      "Decision requests currently running",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "incident",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"step", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident",
			Name:      "retries_total",
			Help:      "Retries of external calls made by steps",
		}, []string{"step", "reason"}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident",
			Name:      "warnings_total",
			Help:      "Recoverable step failures that degraded a decision",
		}, []string{"step"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident",
			Name:      "decisions_total",
			Help:      "Finished decision requests by outcome",
		}, []string{"outcome"}),
		spansDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "incident",
			Name:      "spans_dropped_total",
			Help:      "Spans dropped because the export queue was full",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident",
			Name:      "llm_tokens_total",
			Help:      "Completion tokens consumed by steps",
		}, []string{"step", "direction"}),
		cost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incident",
			Name:      "llm_cost_usd_total",
			Help:      "Estimated completion cost in USD",
		}, []string{"step"}),
	}
}

// RecordStepLatency observes a step duration. status is "ok", "warning" or
// "error".
func (pm *PrometheusMetrics) RecordStepLatency(phase Phase, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stepLatency.WithLabelValues(phase.SpanName(), status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry of an external call.
func (pm *PrometheusMetrics) IncrementRetries(phase Phase, reason string) {
	if pm == nil {
		return
	}
	pm.retries.WithLabelValues(phase.SpanName(), reason).Inc()
}

// IncrementWarnings counts one recoverable failure.
func (pm *PrometheusMetrics) IncrementWarnings(phase Phase) {
	if pm == nil {
		return
	}
	pm.warnings.WithLabelValues(phase.SpanName()).Inc()
}

// RecordDecision counts a finished request.
func (pm *PrometheusMetrics) RecordDecision(outcome Outcome) {
	if pm == nil {
		return
	}
	pm.decisions.WithLabelValues(string(outcome)).Inc()
}

// IncrementSpansDropped counts one dropped span. It matches the drop hook
// signature of the export processor.
func (pm *PrometheusMetrics) IncrementSpansDropped() {
	if pm == nil {
		return
	}
	pm.spansDropped.Inc()
}

// RecordLLMCall adds the tokens and cost of one completion call.
func (pm *PrometheusMetrics) RecordLLMCall(call LLMCall) {
	if pm == nil {
		return
	}
	step := call.Phase.SpanName()
	pm.tokens.WithLabelValues(step, "in").Add(float64(call.TokensIn))
	pm.tokens.WithLabelValues(step, "out").Add(float64(call.TokensOut))
	pm.cost.WithLabelValues(step).Add(call.CostUSD)
}

func (pm *PrometheusMetrics) requestStarted() {
	if pm != nil {
		pm.inflight.Inc()
	}
}

func (pm *PrometheusMetrics) requestFinished() {
	if pm != nil {
		pm.inflight.Dec()
	}
}
