package graph

// Phase is a state of the decision control graph.
type Phase string

const (
	PhaseStart                Phase = "START"
	PhaseUnderstanding        Phase = "UNDERSTANDING"
	PhaseEvidenceRetrieval    Phase = "EVIDENCE_RETRIEVAL"
	PhaseKnowledgeSynthesis   Phase = "KNOWLEDGE_SYNTHESIS"
	PhaseConfidenceEvaluation Phase = "CONFIDENCE_EVALUATION"
	PhaseApprovalGate         Phase = "APPROVAL_GATE"
	PhaseComplete             Phase = "COMPLETE"
	PhaseFailed               Phase = "FAILED"
)

// transitions is the fixed successor table. Every non-terminal phase has
// exactly one successor on success; any fatal error routes to PhaseFailed.
var transitions = map[Phase]Phase{
	PhaseStart:                PhaseUnderstanding,
	PhaseUnderstanding:        PhaseEvidenceRetrieval,
	PhaseEvidenceRetrieval:    PhaseKnowledgeSynthesis,
	PhaseKnowledgeSynthesis:   PhaseConfidenceEvaluation,
	PhaseConfidenceEvaluation: PhaseApprovalGate,
	PhaseApprovalGate:         PhaseComplete,
}

// stepPhases lists the phases that run a step, in execution order.
var stepPhases = []Phase{
	PhaseUnderstanding,
	PhaseEvidenceRetrieval,
	PhaseKnowledgeSynthesis,
	PhaseConfidenceEvaluation,
	PhaseApprovalGate,
}

// Terminal reports whether p ends a request.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Next returns the successor of p on success and whether one exists.
func (p Phase) Next() (Phase, bool) {
	n, ok := transitions[p]
	return n, ok
}

// SpanName is the tracing span name used for the phase's step.
func (p Phase) SpanName() string {
	switch p {
	case PhaseUnderstanding:
		return "understanding"
	case PhaseEvidenceRetrieval:
		return "evidence_retrieval"
	case PhaseKnowledgeSynthesis:
		return "knowledge_synthesis"
	case PhaseConfidenceEvaluation:
		return "confidence_evaluation"
	case PhaseApprovalGate:
		return "approval_gate"
	}
	return string(p)
}
