// Package graph provides the incident decision workflow engine.
package graph

import (
	"errors"
	"fmt"
)

// ErrEmptyDescription indicates the incident description was blank after
// normalization. The request ends in the FAILED state.
var ErrEmptyDescription = errors.New("incident description is empty")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrNilStep indicates a step was registered without an implementation.
var ErrNilStep = errors.New("step implementation is nil")

// EngineError is a structured error carrying a machine-readable code.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// RetrievalError is a recoverable failure of the evidence datastore or the
// embedder. It is recorded as a warning and the request continues with empty
// evidence.
type RetrievalError struct {
	Attempts int
	Cause    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("evidence retrieval failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *RetrievalError) Unwrap() error { return e.Cause }

// SynthesisError is a recoverable failure of the completion service. The
// request continues with the fallback response.
type SynthesisError struct {
	Attempts int
	Cause    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("knowledge synthesis failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// ClassificationError is a recoverable failure of the incident classifier.
// The request continues with the fallback signature.
type ClassificationError struct {
	Cause error
}

func (e *ClassificationError) Error() string {
	return "incident classification failed: " + e.Cause.Error()
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

// ConfigurationError reports an invalid policy or dependency setup. It is
// raised before any request is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Field + ": " + e.Reason
}

// StateInvariantViolation is raised when a step attempts to write a field that
// is already set, or when the control graph would enter a state twice.
type StateInvariantViolation struct {
	Field  string
	Phase  Phase
	Reason string
}

func (e *StateInvariantViolation) Error() string {
	return fmt.Sprintf("state invariant violated at %s: %s: %s", e.Phase, e.Field, e.Reason)
}

// StepPanicError wraps a panic recovered while a step was running.
type StepPanicError struct {
	Phase Phase
	Value any
}

func (e *StepPanicError) Error() string {
	return fmt.Sprintf("step %s panicked: %v", e.Phase, e.Value)
}

// IsRecoverable reports whether err is a recoverable step failure.
func IsRecoverable(err error) bool {
	var re *RetrievalError
	var se *SynthesisError
	var ce *ClassificationError
	return errors.As(err, &re) || errors.As(err, &se) || errors.As(err, &ce)
}
