// Package google adapts Google Gemini to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/incidentgraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	providerName     = "google"
	defaultModelName = "gemini-2.5-flash"
)

// ChatModel implements model.ChatModel for Gemini. The underlying client is
// created once and shared by all calls; call Close when done.
type ChatModel struct {
	modelName string
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, modelName string, system string, parts []genai.Part, opts model.CallOptions) (*genai.GenerateContentResponse, error)
	close() error
}

// NewChatModel creates a Gemini-backed ChatModel.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = defaultModelName
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{client: client},
	}, nil
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.CallOptions) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, parts := convertMessages(messages)
	resp, err := m.client.generateContent(ctx, m.modelName, system, parts, opts)
	if err != nil {
		return model.ChatOut{}, model.Classify(providerName, statusOf(err), err)
	}

	out := convertResponse(resp)
	out.Model = m.modelName
	if strings.TrimSpace(out.Text) == "" {
		return model.ChatOut{}, model.Classify(providerName, 0, model.ErrEmptyResponse)
	}
	return out, nil
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	return m.client.close()
}

type defaultClient struct {
	client *genai.Client
}

func (c *defaultClient) generateContent(ctx context.Context, modelName string, system string, parts []genai.Part, opts model.CallOptions) (*genai.GenerateContentResponse, error) {
	genModel := c.client.GenerativeModel(modelName)
	if system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if opts.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		genModel.SetTemperature(float32(*opts.Temperature))
	}
	if opts.JSON {
		genModel.ResponseMIMEType = "application/json"
	}

	return genModel.GenerateContent(ctx, parts...)
}

func (c *defaultClient) close() error {
	return c.client.Close()
}

// convertMessages splits system messages out into a single instruction and
// turns the rest into text parts.
func convertMessages(messages []model.Message) (string, []genai.Part) {
	var system []string
	var parts []genai.Part

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}

	return strings.Join(system, "\n\n"), parts
}

// convertResponse converts Google's response to our ChatOut format.
func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}

	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(text)
		}
	}

	return out
}

// statusOf extracts an HTTP-equivalent status code from a Google error.
func statusOf(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return http.StatusTooManyRequests
		case codes.DeadlineExceeded:
			return http.StatusGatewayTimeout
		case codes.Unavailable:
			return http.StatusServiceUnavailable
		case codes.OK, codes.Unknown:
			return 0
		default:
			return http.StatusInternalServerError
		}
	}
	return 0
}
