package graph

import (
	"math"
	"strings"
)

// ApprovalPolicy decides whether a decision must be gated by a human.
type ApprovalPolicy struct {
	// Cutoff is the minimum confidence for an automatic outcome.
	Cutoff float64

	// Keywords force approval when any of them appears in the issue text,
	// whatever the score. Matching is case-insensitive.
	Keywords []string
}

// DefaultApprovalPolicy returns the production defaults.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{Cutoff: 0.75}
}

// Validate returns a ConfigurationError for an unusable policy.
func (p ApprovalPolicy) Validate() error {
	if !inUnit(p.Cutoff) {
		return &ConfigurationError{Field: "approval_cutoff", Reason: "must be within [0,1]"}
	}
	for _, k := range p.Keywords {
		if strings.TrimSpace(k) == "" {
			return &ConfigurationError{Field: "approval_keywords", Reason: "keywords must not be blank"}
		}
	}
	return nil
}

// Required reports whether human approval is needed. It is total over every
// float64 including NaN, which always requires approval.
func (p ApprovalPolicy) Required(score float64, issue string) bool {
	if math.IsNaN(score) || score < p.Cutoff {
		return true
	}
	return p.matchesKeyword(issue)
}

func (p ApprovalPolicy) matchesKeyword(issue string) bool {
	if len(p.Keywords) == 0 || issue == "" {
		return false
	}
	lower := strings.ToLower(issue)
	for _, k := range p.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
