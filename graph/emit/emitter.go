// Package emit provides observability for the decision workflow: step event
// emitters and the OpenTelemetry tracing adapter.
package emit

// Emitter receives step lifecycle events.
//
// Implementations must be safe for concurrent use and must not block the
// caller for long; Emit is called inline on the request goroutine.
type Emitter interface {
	Emit(event Event)
}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
