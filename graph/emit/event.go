package emit

// Event is a step lifecycle notification emitted by the engine.
//
// Standard messages:
//   - "step_start", "step_end": around every step
//   - "step_warning": a recoverable error was recorded
//   - "request_complete", "request_failed": terminal transitions
type Event struct {
	// RunID identifies the request that emitted this event.
	RunID string

	// Step is the 1-indexed position of the step in the flow.
	// Zero for request-level events.
	Step int

	// Phase names the control graph state. Empty for request-level events.
	Phase string

	// Msg is the event kind.
	Msg string

	// Meta carries structured details. Common keys:
	//   - "duration_ms": step duration in milliseconds
	//   - "status": "ok", "warning" or "error" on step_end
	//   - "error": error text for warnings and failures
	//   - "confidence", "approval_required", "outcome"
	Meta map[string]interface{}
}

// Standard event messages.
const (
	MsgStepStart       = "step_start"
	MsgStepEnd         = "step_end"
	MsgStepWarning     = "step_warning"
	MsgRequestComplete = "request_complete"
	MsgRequestFailed   = "request_failed"
)
