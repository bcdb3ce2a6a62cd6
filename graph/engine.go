package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/incidentgraph/graph/emit"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Engine runs incident requests through the fixed decision flow:
//
//	START -> UNDERSTANDING -> EVIDENCE_RETRIEVAL -> KNOWLEDGE_SYNTHESIS
//	      -> CONFIDENCE_EVALUATION -> APPROVAL_GATE -> COMPLETE
//
// Any fatal step error moves the request to FAILED. Every request gets a root
// span and one child span per step; all spans are closed on every path.
//
// An Engine is safe for concurrent use. Each request owns its State and runs
// its steps sequentially on the calling goroutine.
type Engine struct {
	cfg   engineConfig
	nodes map[Phase]Node
}

// Request is one entry of a RunBatch call.
type Request struct {
	RunID       string
	Description string
}

// New builds an Engine. Invalid policies or dependencies are reported as
// *ConfigurationError before any request runs.
//
// Example:
//
//	engine, err := graph.New(
//	    graph.WithRetrieval(graph.RetrievalConfig{Embedder: emb, Store: st, TopK: 5}),
//	    graph.WithSynthesis(graph.SynthesisConfig{Model: chat}),
//	    graph.WithTracerProvider(tp),
//	)
func New(opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		confidence:       DefaultConfidencePolicy(),
		approval:         DefaultApprovalPolicy(),
		tracer:           emit.NewTracer(nil),
		emitter:          emit.NewNullEmitter(),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchConcurrency: 8,
		pricing:          DefaultPricing(),
		steps:            make(map[Phase]Node),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			var ce *ConfigurationError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, &ConfigurationError{Field: "option", Reason: err.Error()}
		}
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	retrieval := NewRetrievalNode(cfg.retrieval)
	retrieval.metrics = cfg.metrics
	synthesis := NewSynthesisNode(cfg.synthesis)
	synthesis.metrics = cfg.metrics

	nodes := map[Phase]Node{
		PhaseUnderstanding:        NewUnderstandingNode(cfg.understanding),
		PhaseEvidenceRetrieval:    retrieval,
		PhaseKnowledgeSynthesis:   synthesis,
		PhaseConfidenceEvaluation: ConfidenceNode{Policy: cfg.confidence},
		PhaseApprovalGate:         ApprovalNode{Policy: cfg.approval},
	}
	for phase, n := range cfg.steps {
		nodes[phase] = n
	}

	return &Engine{cfg: cfg, nodes: nodes}, nil
}

func validateConfig(cfg engineConfig) error {
	if err := cfg.confidence.Validate(); err != nil {
		return err
	}
	if err := cfg.approval.Validate(); err != nil {
		return err
	}
	if cfg.confidence.NoEvidenceScore >= cfg.approval.Cutoff {
		return &ConfigurationError{
			Field:  "no_evidence_score",
			Reason: fmt.Sprintf("%.3f must be below the approval cutoff %.3f", cfg.confidence.NoEvidenceScore, cfg.approval.Cutoff),
		}
	}

	for name, rp := range map[string]RetryPolicy{"retrieval": cfg.retrieval.Retry, "synthesis": cfg.synthesis.Retry} {
		if rp.MaxAttempts == 0 && rp.BaseDelay == 0 && rp.MaxDelay == 0 {
			continue
		}
		if err := rp.Validate(); err != nil {
			return &ConfigurationError{Field: name + "_retry", Reason: err.Error()}
		}
	}

	if cfg.retrieval.Embedder != nil && cfg.retrieval.Store != nil &&
		cfg.retrieval.Embedder.Dimensions() != cfg.retrieval.Store.Dimensions() {
		return &ConfigurationError{
			Field: "embedding_dimensions",
			Reason: fmt.Sprintf("embedder %q produces %d dimensions but the evidence store holds %d",
				cfg.retrieval.Embedder.Model(), cfg.retrieval.Embedder.Dimensions(), cfg.retrieval.Store.Dimensions()),
		}
	}
	return nil
}

// Run processes one incident description and returns its Decision.
//
// The returned Decision is always populated, including for failed requests.
// The error is non-nil only when ctx (or the request timeout) ended the
// request; the Decision then carries the failure as well.
func (e *Engine) Run(ctx context.Context, runID, description string) (Decision, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if e.cfg.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.requestTimeout)
		defer cancel()
	}

	e.cfg.metrics.requestStarted()
	defer e.cfg.metrics.requestFinished()

	ctx, root := e.cfg.tracer.StartRun(ctx, runID)
	defer root.End()

	state := State{
		RunID:       runID,
		Trace:       TraceContext{TraceID: root.TraceID(), SpanID: root.SpanID()},
		Description: description,
	}

	phase := e.execute(ctx, &state)
	decision := newDecision(state, phase, e.cfg.confidence.SimilarityThreshold)
	e.finish(root, decision)

	if decision.Failed() && ctx.Err() != nil && errors.Is(decision.Err, ctx.Err()) {
		return decision, ctx.Err()
	}
	return decision, nil
}

// execute walks the transition table and returns the terminal phase.
func (e *Engine) execute(ctx context.Context, state *State) Phase {
	phase := PhaseStart
	visited := map[Phase]bool{PhaseStart: true}
	step := 0

	for !phase.Terminal() {
		next, ok := phase.Next()
		if !ok {
			state.fail(phase, &StateInvariantViolation{Field: "phase", Phase: phase, Reason: "no successor"})
			return PhaseFailed
		}
		if visited[next] {
			state.fail(phase, &StateInvariantViolation{Field: "phase", Phase: next, Reason: "state entered twice"})
			return PhaseFailed
		}
		visited[next] = true

		if next == PhaseComplete {
			return PhaseComplete
		}

		step++
		if err := e.runStep(ctx, state, next, step); err != nil {
			state.fail(next, err)
			return PhaseFailed
		}
		phase = next
	}
	return phase
}

// runStep executes one node inside its own span and merges its delta.
func (e *Engine) runStep(ctx context.Context, state *State, phase Phase, step int) (err error) {
	node, ok := e.nodes[phase]
	if !ok || node == nil {
		return &NodeError{Message: "no step registered", Code: "NODE_NOT_FOUND", Phase: phase, Cause: ErrNilStep}
	}

	stepCtx, span := e.cfg.tracer.StartStep(ctx, phase.SpanName(), string(phase), step)
	start := time.Now()
	status := "ok"

	e.emit(emit.Event{RunID: state.RunID, Step: step, Phase: string(phase), Msg: emit.MsgStepStart})
	defer func() {
		meta := map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()}
		if err != nil {
			status = "error"
			span.Fail(err)
			meta["error"] = err.Error()
		} else {
			span.OK()
		}
		meta["status"] = status
		span.End()
		e.cfg.metrics.RecordStepLatency(phase, time.Since(start), status)
		e.emit(emit.Event{RunID: state.RunID, Step: step, Phase: string(phase), Msg: emit.MsgStepEnd, Meta: meta})
	}()

	result := invoke(stepCtx, node, phase, *state)
	if len(result.Calls) > 0 {
		e.recordCalls(span, state, phase, result.Calls)
	}
	if result.Err != nil {
		return result.Err
	}
	if err := state.apply(phase, result.Delta); err != nil {
		return err
	}

	for _, w := range result.Warnings {
		if w == nil {
			continue
		}
		status = "warning"
		state.warn(phase, w)
		span.Warn(w)
		e.cfg.metrics.IncrementWarnings(phase)
		e.cfg.logger.Warn("step degraded",
			slog.String("run_id", state.RunID),
			slog.String("phase", string(phase)),
			slog.String("error", w.Error()))
		e.emit(emit.Event{
			RunID: state.RunID, Step: step, Phase: string(phase), Msg: emit.MsgStepWarning,
			Meta: map[string]interface{}{"error": w.Error()},
		})
	}

	span.SetAttributes(stepAttributes(phase, *state)...)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("request ended during %s: %w", phase.SpanName(), ctxErr)
	}
	return nil
}

// recordCalls prices the completion calls of a step and adds them to the
// request's usage, the step span and the metrics.
func (e *Engine) recordCalls(span *emit.Span, state *State, phase Phase, calls []LLMCall) {
	var in, out int
	var cost float64
	for _, c := range calls {
		c.Phase = phase
		c.CostUSD = e.cfg.pricing.Cost(c.Model, c.TokensIn, c.TokensOut)
		state.Calls = append(state.Calls, c)
		e.cfg.metrics.RecordLLMCall(c)
		in += c.TokensIn
		out += c.TokensOut
		cost += c.CostUSD
	}
	span.SetAttributes(
		emit.AttrTokensIn.Int(in),
		emit.AttrTokensOut.Int(out),
		emit.AttrCostUSD.Float64(cost),
	)
}

// invoke runs node, converting a panic into a fatal step error.
func invoke(ctx context.Context, node Node, phase Phase, state State) (result NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = NodeResult{Err: &StepPanicError{Phase: phase, Value: r}}
		}
	}()
	return node.Run(ctx, state)
}

func stepAttributes(phase Phase, s State) []attribute.KeyValue {
	switch phase {
	case PhaseUnderstanding:
		sig := s.Signature.Value()
		return []attribute.KeyValue{
			emit.AttrIncidentType.String(sig.IncidentType),
			emit.AttrIncidentArea.String(sig.AffectedArea),
		}
	case PhaseEvidenceRetrieval:
		attrs := []attribute.KeyValue{
			emit.AttrEvidenceCount.Int(len(s.Evidence.Value())),
			emit.AttrEvidenceStatus.String(string(s.EvidenceStatus.Value())),
		}
		for _, w := range s.Warnings {
			var re *RetrievalError
			if w.Phase == phase && errors.As(w.Err, &re) {
				attrs = append(attrs, emit.AttrAttempts.Int(re.Attempts))
			}
		}
		return attrs
	case PhaseKnowledgeSynthesis:
		attrs := []attribute.KeyValue{emit.AttrFallback.Bool(false)}
		for _, w := range s.Warnings {
			var se *SynthesisError
			if w.Phase == phase && errors.As(w.Err, &se) {
				attrs = []attribute.KeyValue{emit.AttrFallback.Bool(true), emit.AttrAttempts.Int(se.Attempts)}
			}
		}
		return attrs
	case PhaseConfidenceEvaluation:
		return []attribute.KeyValue{emit.AttrConfidence.Float64(s.ConfidenceScore.Value())}
	case PhaseApprovalGate:
		return []attribute.KeyValue{emit.AttrApprovalRequired.Bool(s.ApprovalRequired.Value())}
	}
	return nil
}

// finish annotates the root span and reports the outcome.
func (e *Engine) finish(root *emit.Span, d Decision) {
	root.SetAttributes(
		emit.AttrOutcome.String(string(d.Outcome)),
		emit.AttrConfidence.Float64(d.ConfidenceScore),
		emit.AttrApprovalRequired.Bool(d.ApprovalRequired),
		emit.AttrIncidentType.String(d.Signature.IncidentType),
		emit.AttrIncidentArea.String(d.Signature.AffectedArea),
		emit.AttrTokensIn.Int(d.Usage.TokensIn),
		emit.AttrTokensOut.Int(d.Usage.TokensOut),
		emit.AttrCostUSD.Float64(d.Usage.CostUSD),
	)
	root.Event(string(d.Phase))
	e.cfg.metrics.RecordDecision(d.Outcome)

	meta := map[string]interface{}{
		"outcome":           string(d.Outcome),
		"confidence":        d.ConfidenceScore,
		"approval_required": d.ApprovalRequired,
		"cost_usd":          d.Usage.CostUSD,
	}

	if d.Failed() {
		root.Fail(d.Err)
		meta["error"] = d.FailureReason
		e.emit(emit.Event{RunID: d.RunID, Msg: emit.MsgRequestFailed, Meta: meta})
		e.cfg.logger.Error("decision failed",
			slog.String("run_id", d.RunID),
			slog.String("trace_id", d.TraceID),
			slog.String("reason", d.FailureReason))
		return
	}

	root.OK()
	e.emit(emit.Event{RunID: d.RunID, Msg: emit.MsgRequestComplete, Meta: meta})
	e.cfg.logger.Info("decision complete",
		slog.String("run_id", d.RunID),
		slog.String("trace_id", d.TraceID),
		slog.String("outcome", string(d.Outcome)),
		slog.Float64("confidence", d.ConfidenceScore),
		slog.Bool("approval_required", d.ApprovalRequired),
		slog.Int("warnings", len(d.Warnings)),
		slog.Int("llm_calls", d.Usage.Calls),
		slog.Float64("cost_usd", d.Usage.CostUSD))
}

func (e *Engine) emit(ev emit.Event) {
	if e.cfg.emitter != nil {
		e.cfg.emitter.Emit(ev)
	}
}

// RunBatch processes independent requests concurrently, at most
// WithBatchConcurrency at a time. decisions[i] answers reqs[i].
func (e *Engine) RunBatch(ctx context.Context, reqs []Request) []Decision {
	decisions := make([]Decision, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.batchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			d, _ := e.Run(gctx, req.RunID, req.Description)
			decisions[i] = d
			return nil
		})
	}
	_ = g.Wait()

	return decisions
}
