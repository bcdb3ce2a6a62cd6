package graph

import (
	"log/slog"
	"slices"
	"time"

	"github.com/dshills/incidentgraph/graph/emit"
	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring an Engine.
//
// Options are applied in order by New. An option returns an error when its
// argument is unusable; New wraps it as a ConfigurationError.
type Option func(*engineConfig) error

type engineConfig struct {
	understanding UnderstandingConfig
	retrieval     RetrievalConfig
	synthesis     SynthesisConfig
	confidence    ConfidencePolicy
	approval      ApprovalPolicy

	tracer  *emit.Tracer
	emitter emit.Emitter
	metrics *PrometheusMetrics
	logger  *slog.Logger

	pricing Pricing

	requestTimeout   time.Duration
	batchConcurrency int

	steps map[Phase]Node
}

// WithUnderstanding configures the understanding step.
func WithUnderstanding(c UnderstandingConfig) Option {
	return func(cfg *engineConfig) error {
		cfg.understanding = c
		return nil
	}
}

// WithRetrieval configures the evidence retrieval step.
func WithRetrieval(c RetrievalConfig) Option {
	return func(cfg *engineConfig) error {
		cfg.retrieval = c
		return nil
	}
}

// WithSynthesis configures the knowledge synthesis step.
func WithSynthesis(c SynthesisConfig) Option {
	return func(cfg *engineConfig) error {
		cfg.synthesis = c
		return nil
	}
}

// WithConfidencePolicy sets the confidence calculator parameters.
func WithConfidencePolicy(p ConfidencePolicy) Option {
	return func(cfg *engineConfig) error {
		cfg.confidence = p
		return nil
	}
}

// WithApprovalPolicy sets the human approval gate parameters.
func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(cfg *engineConfig) error {
		cfg.approval = p
		return nil
	}
}

// WithTracerProvider traces requests with spans from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *engineConfig) error {
		cfg.tracer = emit.NewTracer(tp)
		return nil
	}
}

// WithEmitter sends step lifecycle events to e.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithPricing replaces the model price table used for cost accounting.
func WithPricing(p Pricing) Option {
	return func(cfg *engineConfig) error {
		for name, mp := range p {
			if mp.InputPer1M < 0 || mp.OutputPer1M < 0 {
				return &EngineError{Message: "negative price for " + name, Code: "INVALID_PRICING"}
			}
		}
		cfg.pricing = p
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if l == nil {
			return &EngineError{Message: "logger must not be nil", Code: "INVALID_LOGGER"}
		}
		cfg.logger = l
		return nil
	}
}

// WithRequestTimeout bounds each request end to end. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "request timeout must be >= 0", Code: "INVALID_TIMEOUT"}
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithBatchConcurrency bounds how many requests RunBatch runs at once.
func WithBatchConcurrency(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &EngineError{Message: "batch concurrency must be >= 1", Code: "INVALID_CONCURRENCY"}
		}
		cfg.batchConcurrency = n
		return nil
	}
}

// WithStep replaces the implementation of a step phase.
func WithStep(phase Phase, n Node) Option {
	return func(cfg *engineConfig) error {
		if n == nil {
			return ErrNilStep
		}
		if !slices.Contains(stepPhases, phase) {
			return &EngineError{Message: "no step runs in phase " + string(phase), Code: "INVALID_PHASE"}
		}
		cfg.steps[phase] = n
		return nil
	}
}
