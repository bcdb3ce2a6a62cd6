package graph

import (
	"slices"
	"strings"
)

// Slot holds a write-once value. The zero Slot is unset.
type Slot[T any] struct {
	value T
	set   bool
}

// Some returns a set Slot holding v.
func Some[T any](v T) Slot[T] {
	return Slot[T]{value: v, set: true}
}

// Get returns the value and whether it has been set.
func (s Slot[T]) Get() (T, bool) {
	return s.value, s.set
}

// Value returns the value, or the zero value when unset.
func (s Slot[T]) Value() T {
	return s.value
}

// IsSet reports whether the slot has been written.
func (s Slot[T]) IsSet() bool {
	return s.set
}

// Evidence is one past incident returned by the evidence datastore.
type Evidence struct {
	IssueText   string  `json:"issue_text"`
	ActionTaken string  `json:"action_taken"`
	Success     bool    `json:"success"`
	Similarity  float64 `json:"similarity"`
}

// Signature is the normalized classification of an incident.
type Signature struct {
	IncidentType string `json:"incident_type"`
	AffectedArea string `json:"affected_area"`
	Context      string `json:"context"`
}

// EvidenceStatus summarizes how evidence retrieval went.
type EvidenceStatus string

const (
	EvidenceFound    EvidenceStatus = "FOUND"
	EvidenceNotFound EvidenceStatus = "NOT_FOUND"
	EvidenceError    EvidenceStatus = "ERROR"
)

// TraceContext identifies the root span of a request. It is captured once
// when the request enters the engine.
type TraceContext struct {
	TraceID string
	SpanID  string
}

// Warning is a recoverable error recorded by a step.
type Warning struct {
	Phase Phase
	Err   error
}

// String formats the warning for logs and caller output.
func (w Warning) String() string {
	if w.Err == nil {
		return string(w.Phase)
	}
	return string(w.Phase) + ": " + w.Err.Error()
}

// Failure is the terminal error record of a request.
type Failure struct {
	Phase Phase
	Err   error
}

// Reason returns a human readable failure reason.
func (f Failure) Reason() string {
	if f.Err == nil {
		return "failed at " + string(f.Phase)
	}
	return f.Err.Error()
}

// State is the shared state threaded through a single request. Every Slot is
// written at most once; Warnings and Calls only grow.
//
// State is owned by one request goroutine and is never persisted.
type State struct {
	RunID       string
	Trace       TraceContext
	Description string

	IssueDescription Slot[string]
	Signature        Slot[Signature]
	Evidence         Slot[[]Evidence]
	EvidenceStatus   Slot[EvidenceStatus]
	ConfidenceScore  Slot[float64]
	ApprovalRequired Slot[bool]
	ResponseText     Slot[string]
	Failure          Slot[Failure]

	Warnings []Warning
	Calls    []LLMCall
}

// EvidenceItems returns a copy of the retrieved evidence.
func (s State) EvidenceItems() []Evidence {
	return slices.Clone(s.Evidence.Value())
}

// Delta is the set of fields a step produces. Only set slots are merged.
type Delta struct {
	IssueDescription Slot[string]
	Signature        Slot[Signature]
	Evidence         Slot[[]Evidence]
	EvidenceStatus   Slot[EvidenceStatus]
	ConfidenceScore  Slot[float64]
	ApprovalRequired Slot[bool]
	ResponseText     Slot[string]
}

// Empty reports whether the delta writes nothing.
func (d Delta) Empty() bool {
	return !d.IssueDescription.IsSet() && !d.Signature.IsSet() && !d.Evidence.IsSet() &&
		!d.EvidenceStatus.IsSet() && !d.ConfidenceScore.IsSet() && !d.ApprovalRequired.IsSet() &&
		!d.ResponseText.IsSet()
}

// apply merges d into s. The merge is all-or-nothing: if any field in d is
// already set in s, nothing is written and a StateInvariantViolation is
// returned.
func (s *State) apply(phase Phase, d Delta) error {
	if s.Failure.IsSet() && !d.Empty() {
		return &StateInvariantViolation{Field: "failure", Phase: phase, Reason: "state already failed"}
	}

	conflicts := []struct {
		field string
		dup   bool
	}{
		{"issue_description", d.IssueDescription.IsSet() && s.IssueDescription.IsSet()},
		{"signature", d.Signature.IsSet() && s.Signature.IsSet()},
		{"evidence", d.Evidence.IsSet() && s.Evidence.IsSet()},
		{"evidence_status", d.EvidenceStatus.IsSet() && s.EvidenceStatus.IsSet()},
		{"confidence_score", d.ConfidenceScore.IsSet() && s.ConfidenceScore.IsSet()},
		{"approval_required", d.ApprovalRequired.IsSet() && s.ApprovalRequired.IsSet()},
		{"response_text", d.ResponseText.IsSet() && s.ResponseText.IsSet()},
	}
	for _, c := range conflicts {
		if c.dup {
			return &StateInvariantViolation{Field: c.field, Phase: phase, Reason: "field already set"}
		}
	}

	if d.IssueDescription.IsSet() {
		s.IssueDescription = d.IssueDescription
	}
	if d.Signature.IsSet() {
		s.Signature = d.Signature
	}
	if d.Evidence.IsSet() {
		s.Evidence = Some(slices.Clone(d.Evidence.Value()))
	}
	if d.EvidenceStatus.IsSet() {
		s.EvidenceStatus = d.EvidenceStatus
	}
	if d.ConfidenceScore.IsSet() {
		s.ConfidenceScore = d.ConfidenceScore
	}
	if d.ApprovalRequired.IsSet() {
		s.ApprovalRequired = d.ApprovalRequired
	}
	if d.ResponseText.IsSet() {
		s.ResponseText = d.ResponseText
	}
	return nil
}

// fail records the terminal failure. A second failure is ignored so the first
// cause is preserved.
func (s *State) fail(phase Phase, err error) {
	if s.Failure.IsSet() {
		return
	}
	s.Failure = Some(Failure{Phase: phase, Err: err})
}

func (s *State) warn(phase Phase, errs ...error) {
	for _, err := range errs {
		if err != nil {
			s.Warnings = append(s.Warnings, Warning{Phase: phase, Err: err})
		}
	}
}

// normalizeDescription collapses whitespace runs and trims the ends.
func normalizeDescription(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
