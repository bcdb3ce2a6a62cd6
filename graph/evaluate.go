package graph

import "context"

// ConfidenceNode scores the retrieved evidence. It has no external calls.
type ConfidenceNode struct {
	Policy ConfidencePolicy
}

// Run implements Node.
func (n ConfidenceNode) Run(_ context.Context, state State) NodeResult {
	return NodeResult{Delta: Delta{
		ConfidenceScore: Some(n.Policy.Score(state.Evidence.Value())),
	}}
}

// ApprovalNode records whether human approval is required. It only records
// the flag; it never waits for a human.
type ApprovalNode struct {
	Policy ApprovalPolicy
}

// Run implements Node.
func (n ApprovalNode) Run(_ context.Context, state State) NodeResult {
	score, ok := state.ConfidenceScore.Get()
	if !ok {
		return NodeResult{Err: &StateInvariantViolation{
			Field:  "confidence_score",
			Phase:  PhaseApprovalGate,
			Reason: "gate reached before confidence was evaluated",
		}}
	}
	return NodeResult{Delta: Delta{
		ApprovalRequired: Some(n.Policy.Required(score, state.IssueDescription.Value())),
	}}
}
