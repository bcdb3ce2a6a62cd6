package graph

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/incidentgraph/graph/embed"
	"github.com/dshills/incidentgraph/graph/store"
)

// RetrievalConfig configures the evidence retrieval step.
type RetrievalConfig struct {
	Embedder    embed.Embedder
	Store       store.EvidenceStore
	TopK        int
	Retry       RetryPolicy
	CallTimeout time.Duration
}

// RetrievalNode looks up past incidents similar to the issue. It never
// fails the request: exhausted retries yield empty evidence and a
// RetrievalError warning.
type RetrievalNode struct {
	cfg     RetrievalConfig
	metrics *PrometheusMetrics
}

// NewRetrievalNode returns a RetrievalNode. A zero Retry policy means a
// single attempt that retries nothing.
func NewRetrievalNode(cfg RetrievalConfig) *RetrievalNode {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableRetrieval
	}
	return &RetrievalNode{cfg: cfg}
}

// retryableRetrieval treats everything except caller cancellation and
// dimension mismatches as transient.
func retryableRetrieval(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, store.ErrDimensionMismatch) &&
		!errors.Is(err, embed.ErrEmptyText)
}

// Run implements Node.
func (n *RetrievalNode) Run(ctx context.Context, state State) NodeResult {
	issue := state.IssueDescription.Value()

	degrade := func(attempts int, err error) NodeResult {
		return NodeResult{
			Delta: Delta{
				Evidence:       Some([]Evidence{}),
				EvidenceStatus: Some(EvidenceError),
			},
			Warnings: []error{&RetrievalError{Attempts: attempts, Cause: err}},
		}
	}

	if n.cfg.Embedder == nil || n.cfg.Store == nil {
		return degrade(0, errors.New("evidence datastore not configured"))
	}

	onRetry := func(int, error) { n.metrics.IncrementRetries(PhaseEvidenceRetrieval, "transient") }

	var vector []float64
	attempts, err := n.cfg.Retry.do(ctx, n.cfg.CallTimeout, onRetry, func(ctx context.Context) error {
		var err error
		vector, err = n.cfg.Embedder.Embed(ctx, issue)
		return err
	})
	if err != nil {
		return degrade(attempts, err)
	}

	var matches []store.Match
	attempts, err = n.cfg.Retry.do(ctx, n.cfg.CallTimeout, onRetry, func(ctx context.Context) error {
		var err error
		matches, err = n.cfg.Store.Query(ctx, vector, n.cfg.TopK)
		return err
	})
	if err != nil {
		return degrade(attempts, err)
	}

	evidence := make([]Evidence, 0, len(matches))
	for _, m := range matches {
		evidence = append(evidence, Evidence{
			IssueText:   m.IssueText,
			ActionTaken: m.ActionTaken,
			Success:     m.Success,
			Similarity:  m.Similarity,
		})
	}

	status := EvidenceFound
	if len(evidence) == 0 {
		status = EvidenceNotFound
	}
	return NodeResult{Delta: Delta{
		Evidence:       Some(evidence),
		EvidenceStatus: Some(status),
	}}
}
