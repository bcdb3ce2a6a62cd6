package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dshills/incidentgraph/graph/model"
)

// Fallback classification values used when the classifier is disabled,
// fails, or answers outside the allowed taxonomy.
const (
	FallbackIncidentType = "unknown_but_classified"
	FallbackAffectedArea = "general"
	FallbackContext      = "unspecified"
)

// Taxonomy lists the allowed classification values.
type Taxonomy struct {
	IncidentTypes []string `yaml:"incident_types"`
	AffectedAreas []string `yaml:"affected_areas"`
}

// DefaultTaxonomy returns the built-in classification values.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		IncidentTypes: []string{
			"service_outage",
			"service_degradation",
			"configuration_error",
			"deployment_issue",
			FallbackIncidentType,
		},
		AffectedAreas: []string{"payments", "login", "orders", "delivery", FallbackAffectedArea},
	}
}

// UnderstandingConfig configures the understanding step.
type UnderstandingConfig struct {
	// Classifier is optional. When nil the fallback signature is used.
	Classifier  model.ChatModel
	Taxonomy    Taxonomy
	CallTimeout time.Duration
	MaxTokens   int
}

// UnderstandingNode normalizes the raw description and classifies it.
// A blank description is fatal; classifier problems only degrade the
// signature.
type UnderstandingNode struct {
	cfg UnderstandingConfig
}

// NewUnderstandingNode returns an UnderstandingNode.
func NewUnderstandingNode(cfg UnderstandingConfig) *UnderstandingNode {
	if len(cfg.Taxonomy.IncidentTypes) == 0 && len(cfg.Taxonomy.AffectedAreas) == 0 {
		cfg.Taxonomy = DefaultTaxonomy()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &UnderstandingNode{cfg: cfg}
}

// Run implements Node.
func (n *UnderstandingNode) Run(ctx context.Context, state State) NodeResult {
	issue := normalizeDescription(state.Description)
	if issue == "" {
		return NodeResult{Err: &NodeError{
			Message: "nothing to decide on",
			Code:    "EMPTY_DESCRIPTION",
			Phase:   PhaseUnderstanding,
			Cause:   ErrEmptyDescription,
		}}
	}

	result := NodeResult{Delta: Delta{IssueDescription: Some(issue)}}

	sig, calls, err := n.classify(ctx, issue)
	result.Calls = calls
	if err != nil {
		result.Warnings = append(result.Warnings, &ClassificationError{Cause: err})
	}
	result.Delta.Signature = Some(sig)
	return result
}

func (n *UnderstandingNode) classify(ctx context.Context, issue string) (Signature, []LLMCall, error) {
	fallback := Signature{
		IncidentType: FallbackIncidentType,
		AffectedArea: FallbackAffectedArea,
		Context:      FallbackContext,
	}
	if n.cfg.Classifier == nil {
		return fallback, nil, nil
	}

	var out model.ChatOut
	err := callWithTimeout(ctx, n.cfg.CallTimeout, func(ctx context.Context) error {
		var err error
		out, err = n.cfg.Classifier.Chat(ctx, n.prompt(issue), model.CallOptions{
			MaxTokens:   n.cfg.MaxTokens,
			Temperature: model.Float(0),
			JSON:        true,
		})
		return err
	})
	if err != nil {
		return fallback, nil, err
	}
	calls := []LLMCall{newLLMCall(PhaseUnderstanding, out)}

	sig, err := parseSignature(out.Text)
	if err != nil {
		return fallback, calls, err
	}
	return n.normalize(sig), calls, nil
}

func (n *UnderstandingNode) prompt(issue string) []model.Message {
	var sb strings.Builder
	sb.WriteString("You are an incident classification system.\n")
	sb.WriteString("Classify the customer issue into a known incident type and affected area.\n")
	sb.WriteString("Use ONLY the allowed values. If uncertain, choose the closest reasonable category.\n\n")
	sb.WriteString("Allowed incident_type values: ")
	sb.WriteString(strings.Join(n.cfg.Taxonomy.IncidentTypes, ", "))
	sb.WriteString("\nAllowed affected_area values: ")
	sb.WriteString(strings.Join(n.cfg.Taxonomy.AffectedAreas, ", "))
	sb.WriteString("\n\nReturn ONLY valid JSON in this format:\n")
	sb.WriteString(`{"incident_type": "...", "affected_area": "...", "context": "<short free text context>"}`)

	return []model.Message{
		model.System(sb.String()),
		model.User(issue),
	}
}

func (n *UnderstandingNode) normalize(sig Signature) Signature {
	sig.IncidentType = strings.ToLower(strings.TrimSpace(sig.IncidentType))
	sig.AffectedArea = strings.ToLower(strings.TrimSpace(sig.AffectedArea))
	sig.Context = strings.TrimSpace(sig.Context)

	if !slices.Contains(n.cfg.Taxonomy.IncidentTypes, sig.IncidentType) {
		sig.IncidentType = FallbackIncidentType
	}
	if !slices.Contains(n.cfg.Taxonomy.AffectedAreas, sig.AffectedArea) {
		sig.AffectedArea = FallbackAffectedArea
	}
	if sig.Context == "" {
		sig.Context = FallbackContext
	}
	return sig
}

// parseSignature decodes the classifier's JSON answer, tolerating a
// surrounding markdown code fence.
func parseSignature(text string) (Signature, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var sig Signature
	if err := json.Unmarshal([]byte(text), &sig); err != nil {
		return Signature{}, fmt.Errorf("invalid classifier response: %w", err)
	}
	return sig, nil
}
