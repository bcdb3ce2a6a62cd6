package graph

import "context"

// Node is one step of the decision workflow.
//
// A node reads the current State and returns a NodeResult. Nodes never mutate
// the State they receive; the engine merges the returned Delta after the node
// finishes, so an interrupted node commits nothing.
type Node interface {
	Run(ctx context.Context, state State) NodeResult
}

// NodeResult is the outcome of a single step.
//
// The three outcomes are:
//   - success: Delta set, Warnings and Err empty
//   - recoverable: Delta holds the degraded value, Warnings explains why
//   - fatal: Err set; the request moves to FAILED
type NodeResult struct {
	Delta    Delta
	Warnings []error
	Err      error

	// Calls lists the completion calls that returned a response. The engine
	// fills in the cost.
	Calls []LLMCall
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, state State) NodeResult

// Run implements Node.
func (f NodeFunc) Run(ctx context.Context, state State) NodeResult {
	return f(ctx, state)
}

// NodeError represents an error that occurred while a step was running.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code.
	Code string

	// Phase identifies which step produced this error.
	Phase Phase

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Phase != "" {
		return "step " + e.Phase.SpanName() + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
