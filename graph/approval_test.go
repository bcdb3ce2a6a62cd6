package graph

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestApprovalRequired(t *testing.T) {
	p := ApprovalPolicy{Cutoff: 0.75, Keywords: []string{"Production Database", " data loss "}}

	tests := []struct {
		name  string
		score float64
		issue string
		want  bool
	}{
		{"below cutoff", 0.74, "payments slow", true},
		{"at cutoff", 0.75, "payments slow", false},
		{"above cutoff", 0.9, "payments slow", false},
		{"NaN always gated", math.NaN(), "payments slow", true},
		{"negative infinity", math.Inf(-1), "payments slow", true},
		{"positive infinity", math.Inf(1), "payments slow", false},
		{"keyword forces approval", 0.99, "possible DATA LOSS in orders", true},
		{"keyword case-insensitive", 1, "the production database is down", true},
		{"empty issue", 1, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Required(tt.score, tt.issue); got != tt.want {
				t.Errorf("Required(%v, %q) = %v, want %v", tt.score, tt.issue, got, tt.want)
			}
		})
	}
}

func TestApprovalPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  ApprovalPolicy
		wantErr bool
	}{
		{"defaults", DefaultApprovalPolicy(), false},
		{"zero cutoff", ApprovalPolicy{Cutoff: 0}, false},
		{"cutoff above one", ApprovalPolicy{Cutoff: 1.01}, true},
		{"NaN cutoff", ApprovalPolicy{Cutoff: math.NaN()}, true},
		{"blank keyword", ApprovalPolicy{Cutoff: 0.5, Keywords: []string{"ok", "  "}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApprovalNode(t *testing.T) {
	node := ApprovalNode{Policy: DefaultApprovalPolicy()}

	t.Run("records the flag", func(t *testing.T) {
		var s State
		s.IssueDescription = Some("login broken")
		s.ConfidenceScore = Some(0.8)

		res := node.Run(context.Background(), s)
		got, ok := res.Delta.ApprovalRequired.Get()
		if !ok || got {
			t.Errorf("ApprovalRequired = %v (set %v), want false", got, ok)
		}
	})

	t.Run("missing score is fatal", func(t *testing.T) {
		res := node.Run(context.Background(), State{})

		var v *StateInvariantViolation
		if !errors.As(res.Err, &v) {
			t.Fatalf("Err = %v, want *StateInvariantViolation", res.Err)
		}
		if v.Field != "confidence_score" {
			t.Errorf("Field = %q, want confidence_score", v.Field)
		}
		if !res.Delta.Empty() {
			t.Error("fatal result must not carry a delta")
		}
	})
}
