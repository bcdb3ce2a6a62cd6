package model

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockChatModel(t *testing.T) {
	ctx := context.Background()

	t.Run("scripted responses repeat the last", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}

		var got []string
		for i := 0; i < 3; i++ {
			out, err := m.Chat(ctx, []Message{User("hi")}, CallOptions{})
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			got = append(got, out.Text)
		}
		if got[0] != "one" || got[1] != "two" || got[2] != "two" {
			t.Errorf("responses = %v, want [one two two]", got)
		}
		if m.CallCount() != 3 {
			t.Errorf("CallCount() = %d, want 3", m.CallCount())
		}
	})

	t.Run("errors are consumed before responses", func(t *testing.T) {
		flaky := errors.New("flaky")
		m := &MockChatModel{
			Responses: []ChatOut{{Text: "ok"}},
			Errs:      []error{flaky, nil},
		}

		if _, err := m.Chat(ctx, nil, CallOptions{}); !errors.Is(err, flaky) {
			t.Errorf("first call error = %v, want flaky", err)
		}
		out, err := m.Chat(ctx, nil, CallOptions{})
		if err != nil || out.Text != "ok" {
			t.Errorf("second call = %q, %v; want ok", out.Text, err)
		}
	})

	t.Run("Err fails every call", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}, Err: ErrServiceError}
		for i := 0; i < 2; i++ {
			if _, err := m.Chat(ctx, nil, CallOptions{}); !errors.Is(err, ErrServiceError) {
				t.Errorf("call %d error = %v", i, err)
			}
		}
	})

	t.Run("records options", func(t *testing.T) {
		m := &MockChatModel{}
		opts := CallOptions{MaxTokens: 50, Temperature: Float(0.2), JSON: true}
		if _, err := m.Chat(ctx, []Message{System("s"), User("u")}, opts); err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		call := m.Calls[0]
		if len(call.Messages) != 2 || call.Messages[0].Role != RoleSystem || call.Messages[1].Role != RoleUser {
			t.Errorf("messages = %+v", call.Messages)
		}
		if call.Options.MaxTokens != 50 || *call.Options.Temperature != 0.2 || !call.Options.JSON {
			t.Errorf("options = %+v", call.Options)
		}
	})

	t.Run("delay honors deadline", func(t *testing.T) {
		m := &MockChatModel{Delay: time.Second, Responses: []ChatOut{{Text: "late"}}}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := m.Chat(ctx, nil, CallOptions{})
		if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Chat() error = %v, want classified timeout", err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Error("Chat() did not return at the deadline")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		m := &MockChatModel{}
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := m.Chat(ctx, nil, CallOptions{}); !errors.Is(err, context.Canceled) {
			t.Errorf("Chat() error = %v, want context.Canceled", err)
		}
		if m.CallCount() != 0 {
			t.Errorf("CallCount() = %d, canceled calls are not recorded", m.CallCount())
		}
	})

	t.Run("reset rewinds scripts", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}, Errs: []error{ErrRateLimited}}
		_, _ = m.Chat(ctx, nil, CallOptions{})
		_, _ = m.Chat(ctx, nil, CallOptions{})
		m.Reset()

		if m.CallCount() != 0 {
			t.Errorf("CallCount() after Reset = %d", m.CallCount())
		}
		if _, err := m.Chat(ctx, nil, CallOptions{}); !errors.Is(err, ErrRateLimited) {
			t.Errorf("first call after Reset error = %v, want ErrRateLimited", err)
		}
		out, _ := m.Chat(ctx, nil, CallOptions{})
		if out.Text != "one" {
			t.Errorf("response after Reset = %q, want one", out.Text)
		}
	})
}
