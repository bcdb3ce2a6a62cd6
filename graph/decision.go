package graph

// Outcome classifies a finished request for the caller.
type Outcome string

const (
	// OutcomeAutoResolution: confidence cleared the cutoff and no risk
	// keyword matched.
	OutcomeAutoResolution Outcome = "AUTO_RESOLUTION"

	// OutcomeRequiresReview: a human must approve before acting.
	OutcomeRequiresReview Outcome = "REQUIRES_REVIEW"

	// OutcomeSystemEscalation: review is required and evidence could not be
	// retrieved at all.
	OutcomeSystemEscalation Outcome = "SYSTEM_ESCALATION"

	// OutcomeFailed: the request ended in the FAILED state.
	OutcomeFailed Outcome = "FAILED"
)

// Decision is the record returned to the caller for every request, completed
// or failed. Fields that a failed request never reached are zero.
type Decision struct {
	RunID   string `json:"run_id"`
	TraceID string `json:"trace_id,omitempty"`
	Phase   Phase  `json:"phase"`

	IssueDescription string         `json:"issue_description,omitempty"`
	Signature        Signature      `json:"signature"`
	Evidence         []Evidence     `json:"evidence"`
	EvidenceStatus   EvidenceStatus `json:"evidence_status,omitempty"`
	ConfidenceScore  float64        `json:"confidence_score"`
	ApprovalRequired bool           `json:"approval_required"`
	ResponseText     string         `json:"response_text,omitempty"`
	SuggestedAction  string         `json:"suggested_action,omitempty"`
	Outcome          Outcome        `json:"outcome"`

	Usage Usage `json:"usage"`

	Warnings      []string `json:"warnings,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`

	// Err is the fatal error for failed requests, for errors.Is/As.
	Err error `json:"-"`
}

// Failed reports whether the request ended in FAILED.
func (d Decision) Failed() bool {
	return d.Phase == PhaseFailed
}

// Summary is a short caller-facing message for the outcome.
func (d Decision) Summary() string {
	switch d.Outcome {
	case OutcomeAutoResolution:
		if d.SuggestedAction != "" {
			return "We identified a known issue and applied a proven resolution: " + d.SuggestedAction + "."
		}
		return "We identified a known issue with a proven resolution."
	case OutcomeSystemEscalation:
		return "Your issue has been escalated for manual review due to system constraints."
	case OutcomeRequiresReview:
		return "Your issue requires additional review by our engineering team."
	}
	return "We could not process your issue: " + d.FailureReason
}

// newDecision snapshots state into a Decision.
func newDecision(s State, phase Phase, threshold float64) Decision {
	d := Decision{
		RunID:            s.RunID,
		TraceID:          s.Trace.TraceID,
		Phase:            phase,
		IssueDescription: s.IssueDescription.Value(),
		Signature:        s.Signature.Value(),
		Evidence:         s.EvidenceItems(),
		EvidenceStatus:   s.EvidenceStatus.Value(),
		ConfidenceScore:  s.ConfidenceScore.Value(),
		ApprovalRequired: s.ApprovalRequired.Value(),
		ResponseText:     s.ResponseText.Value(),
		SuggestedAction:  suggestedAction(s.Evidence.Value(), threshold),
		Usage:            summarizeUsage(s.Calls),
	}
	if d.Evidence == nil {
		d.Evidence = []Evidence{}
	}
	for _, w := range s.Warnings {
		d.Warnings = append(d.Warnings, w.String())
	}

	if f, ok := s.Failure.Get(); ok {
		d.Outcome = OutcomeFailed
		d.FailureReason = f.Reason()
		d.Err = f.Err
		d.ResponseText = ""
		return d
	}

	switch {
	case !d.ApprovalRequired:
		d.Outcome = OutcomeAutoResolution
	case d.EvidenceStatus == EvidenceError:
		d.Outcome = OutcomeSystemEscalation
	default:
		d.Outcome = OutcomeRequiresReview
	}
	return d
}

// suggestedAction returns the action of the most similar successful
// qualifying evidence, or "".
func suggestedAction(evidence []Evidence, threshold float64) string {
	best := -1
	for i, e := range evidence {
		if !e.Success || e.Similarity < threshold || e.ActionTaken == "" {
			continue
		}
		if best < 0 || e.Similarity > evidence[best].Similarity {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return evidence[best].ActionTaken
}
