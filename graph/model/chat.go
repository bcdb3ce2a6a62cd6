// Package model provides completion service adapters used by the
// understanding and synthesis steps.
package model

import "context"

// ChatModel is a text completion service.
//
// Implementations convert Message values to the provider's format, honor the
// deadline carried by ctx, and classify failures with the package error
// kinds (ErrRateLimited, ErrTimeout, ErrServiceError) so callers can decide
// whether another attempt is worthwhile. Implementations do not retry.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts CallOptions) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	Content string
}

// Standard role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CallOptions bounds a single completion call.
type CallOptions struct {
	// MaxTokens caps the generated tokens. Zero leaves the provider default.
	MaxTokens int

	// Temperature is passed through when non-nil.
	Temperature *float64

	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// ChatOut is the completion result.
type ChatOut struct {
	Text string

	// Model is the provider's model identifier, used for cost accounting.
	Model     string
	TokensIn  int
	TokensOut int
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Float returns a pointer to v, for CallOptions.Temperature.
func Float(v float64) *float64 {
	return &v
}
