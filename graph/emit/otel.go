package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// RootSpanName is the name of the span covering a whole request.
const RootSpanName = "incident_decision_flow"

const instrumentationName = "github.com/dshills/incidentgraph"

// Span attribute keys.
const (
	AttrRunID            = attribute.Key("incident.run_id")
	AttrIncidentType     = attribute.Key("incident.type")
	AttrIncidentArea     = attribute.Key("incident.area")
	AttrPhase            = attribute.Key("workflow.phase")
	AttrStep             = attribute.Key("workflow.step")
	AttrEvidenceCount    = attribute.Key("evidence.count")
	AttrEvidenceStatus   = attribute.Key("evidence.status")
	AttrConfidence       = attribute.Key("decision.confidence")
	AttrApprovalRequired = attribute.Key("decision.approval_required")
	AttrOutcome          = attribute.Key("decision.outcome")
	AttrAttempts         = attribute.Key("call.attempts")
	AttrFallback         = attribute.Key("synthesis.fallback")
	AttrTokensIn         = attribute.Key("llm.tokens_in")
	AttrTokensOut        = attribute.Key("llm.tokens_out")
	AttrCostUSD          = attribute.Key("llm.cost_usd")
)

// Tracer opens the root and step spans for decision requests. It wraps an
// OpenTelemetry tracer obtained from the provider handed to NewTracer; the
// provider's lifecycle belongs to the caller.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer backed by tp. A nil provider produces spans that
// record nothing.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

// StartRun opens the root span of a request.
func (t *Tracer) StartRun(ctx context.Context, runID string) (context.Context, *Span) {
	ctx, span := t.tracer.Start(ctx, RootSpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrRunID.String(runID)),
	)
	return ctx, &Span{span: span}
}

// StartStep opens a child span for one step. ctx must carry the root span.
func (t *Tracer) StartStep(ctx context.Context, name, phase string, step int) (context.Context, *Span) {
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(AttrPhase.String(phase), AttrStep.Int(step)),
	)
	return ctx, &Span{span: span}
}

// Span is an open tracing span. All methods are safe on a nil Span.
type Span struct {
	span trace.Span
}

// SetAttributes records attributes on the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// Event adds a named span event.
func (s *Span) Event(name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Warn records a recoverable error as a span event. The span status is left
// untouched.
func (s *Span) Warn(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.AddEvent("warning", trace.WithAttributes(
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	))
}

// Fail records a fatal error and marks the span as failed.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// OK marks the span as successful.
func (s *Span) OK() {
	if s == nil {
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

// End closes the span. Repeated calls are ignored by the SDK.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.span.End()
}

// TraceID returns the hex trace ID, or "" when the span is not sampled.
func (s *Span) TraceID() string {
	if s == nil {
		return ""
	}
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the hex span ID, or "".
func (s *Span) SpanID() string {
	if s == nil {
		return ""
	}
	sc := s.span.SpanContext()
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
