package google

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dshills/incidentgraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockGoogleClient struct {
	resp *genai.GenerateContentResponse
	err  error

	system string
	parts  []genai.Part
	opts   model.CallOptions
	closed bool
}

func (m *mockGoogleClient) generateContent(_ context.Context, _ string, system string, parts []genai.Part, opts model.CallOptions) (*genai.GenerateContentResponse, error) {
	m.system, m.parts, m.opts = system, parts, opts
	return m.resp, m.err
}

func (m *mockGoogleClient) close() error {
	m.closed = true
	return nil
}

func response(texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, 0, len(texts))
	for _, s := range texts {
		parts = append(parts, genai.Text(s))
	}
	return &genai.GenerateContentResponse{
		Candidates:    []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 40, CandidatesTokenCount: 9},
	}
}

func TestNewChatModelRequiresKey(t *testing.T) {
	if _, err := NewChatModel(context.Background(), "", ""); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestChatModelChat(t *testing.T) {
	t.Run("converts messages and response", func(t *testing.T) {
		client := &mockGoogleClient{resp: response("drain the node", "then reboot")}
		m := &ChatModel{modelName: "gemini-2.5-flash", client: client}

		out, err := m.Chat(context.Background(), []model.Message{
			model.System("be brief"),
			model.User("node unhealthy"),
			model.User(""),
		}, model.CallOptions{JSON: true})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if out.Text != "drain the node\nthen reboot" || out.TokensIn != 40 || out.TokensOut != 9 || out.Model != "gemini-2.5-flash" {
			t.Errorf("Chat() = %+v", out)
		}
		if client.system != "be brief" || len(client.parts) != 1 || !client.opts.JSON {
			t.Errorf("request = system %q, %d parts, opts %+v", client.system, len(client.parts), client.opts)
		}
	})

	t.Run("classifies errors", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want error
		}{
			{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, model.ErrRateLimited},
			{"http 500", &googleapi.Error{Code: http.StatusInternalServerError}, model.ErrServiceError},
			{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), model.ErrRateLimited},
			{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), model.ErrTimeout},
			{"grpc unavailable", status.Error(codes.Unavailable, "down"), model.ErrServiceError},
			{"plain", errors.New("dial tcp"), model.ErrServiceError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m := &ChatModel{modelName: "gemini-2.5-flash", client: &mockGoogleClient{err: tt.err}}
				_, err := m.Chat(context.Background(), []model.Message{model.User("hi")}, model.CallOptions{})
				if !errors.Is(err, tt.want) {
					t.Errorf("error = %v, want %v", err, tt.want)
				}
			})
		}
	})

	t.Run("empty candidates", func(t *testing.T) {
		for _, resp := range []*genai.GenerateContentResponse{nil, {}, response()} {
			m := &ChatModel{modelName: "gemini-2.5-flash", client: &mockGoogleClient{resp: resp}}
			_, err := m.Chat(context.Background(), []model.Message{model.User("hi")}, model.CallOptions{})
			if !errors.Is(err, model.ErrEmptyResponse) {
				t.Errorf("error = %v, want ErrEmptyResponse", err)
			}
		}
	})
}

func TestChatModelClose(t *testing.T) {
	client := &mockGoogleClient{}
	m := &ChatModel{client: client}
	if err := m.Close(); err != nil || !client.closed {
		t.Errorf("Close() = %v, closed %v", err, client.closed)
	}
}
