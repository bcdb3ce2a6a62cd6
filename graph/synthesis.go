package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/incidentgraph/graph/model"
)

// DefaultFallbackResponse is returned when the completion service cannot
// produce an answer.
const DefaultFallbackResponse = "We could not generate a tailored recommendation for this incident. " +
	"It has been recorded and will be reviewed by an engineer."

// SynthesisConfig configures the knowledge synthesis step.
type SynthesisConfig struct {
	Model            model.ChatModel
	MaxTokens        int
	Retry            RetryPolicy
	CallTimeout      time.Duration
	FallbackResponse string

	// MaxResponseRunes caps the stored response. Zero means 4000.
	MaxResponseRunes int

	// MaxEvidence caps how many evidence items go into the prompt.
	MaxEvidence int
}

// SynthesisNode asks the completion service for a recommended response.
// Rate limits and timeouts are retried; anything else, or exhaustion, falls
// back to the fixed response with a SynthesisError warning.
type SynthesisNode struct {
	cfg     SynthesisConfig
	metrics *PrometheusMetrics
}

// NewSynthesisNode returns a SynthesisNode.
func NewSynthesisNode(cfg SynthesisConfig) *SynthesisNode {
	if cfg.FallbackResponse == "" {
		cfg.FallbackResponse = DefaultFallbackResponse
	}
	if cfg.MaxResponseRunes <= 0 {
		cfg.MaxResponseRunes = 4000
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableSynthesis
	}
	return &SynthesisNode{cfg: cfg}
}

func retryableSynthesis(err error) bool {
	return model.IsTransient(err) || errors.Is(err, ErrCallTimeout)
}

// Run implements Node.
func (n *SynthesisNode) Run(ctx context.Context, state State) NodeResult {
	fallback := func(attempts int, err error) NodeResult {
		return NodeResult{
			Delta:    Delta{ResponseText: Some(n.cfg.FallbackResponse)},
			Warnings: []error{&SynthesisError{Attempts: attempts, Cause: err}},
		}
	}

	if n.cfg.Model == nil {
		return fallback(0, errors.New("completion service not configured"))
	}

	messages := n.prompt(state)
	onRetry := func(_ int, err error) {
		reason := "timeout"
		if errors.Is(err, model.ErrRateLimited) {
			reason = "rate_limited"
		}
		n.metrics.IncrementRetries(PhaseKnowledgeSynthesis, reason)
	}

	var (
		text  string
		calls []LLMCall
	)
	attempts, err := n.cfg.Retry.do(ctx, n.cfg.CallTimeout, onRetry, func(ctx context.Context) error {
		out, err := n.cfg.Model.Chat(ctx, messages, model.CallOptions{MaxTokens: n.cfg.MaxTokens})
		if err != nil {
			return err
		}
		calls = append(calls, newLLMCall(PhaseKnowledgeSynthesis, out))
		text = strings.TrimSpace(out.Text)
		if text == "" {
			return model.ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		result := fallback(attempts, err)
		result.Calls = calls
		return result
	}

	return NodeResult{
		Delta: Delta{ResponseText: Some(truncateRunes(text, n.cfg.MaxResponseRunes))},
		Calls: calls,
	}
}

func (n *SynthesisNode) prompt(state State) []model.Message {
	sig := state.Signature.Value()
	evidence := state.EvidenceItems()
	if len(evidence) > n.cfg.MaxEvidence {
		evidence = evidence[:n.cfg.MaxEvidence]
	}

	var sb strings.Builder
	sb.WriteString("Incident: ")
	sb.WriteString(state.IssueDescription.Value())
	fmt.Fprintf(&sb, "\nType: %s\nAffected area: %s\nContext: %s\n", sig.IncidentType, sig.AffectedArea, sig.Context)

	if len(evidence) == 0 {
		sb.WriteString("\nNo similar past incidents were found.\n")
	} else {
		sb.WriteString("\nSimilar past incidents:\n")
		for i, e := range evidence {
			outcome := "failed"
			if e.Success {
				outcome = "succeeded"
			}
			fmt.Fprintf(&sb, "%d. %q -> %q (%s, similarity %.2f)\n", i+1, e.IssueText, e.ActionTaken, outcome, e.Similarity)
		}
	}
	sb.WriteString("\nWrite a short response for the customer describing the likely cause and the recommended action.")

	return []model.Message{
		model.System("You provide contextual knowledge for incident response. You do not make the final decision."),
		model.User(sb.String()),
	}
}

// truncateRunes cuts s to at most limit runes.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == limit {
			return s[:pos]
		}
		i++
	}
	return s
}
