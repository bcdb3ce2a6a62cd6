package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/incidentgraph/graph/model"
	"github.com/google/go-cmp/cmp"
)

func stateWithDescription(desc string) State {
	return State{RunID: "run-1", Description: desc}
}

func TestUnderstandingEmptyDescription(t *testing.T) {
	n := NewUnderstandingNode(UnderstandingConfig{})

	for _, desc := range []string{"", "   ", "\n\t"} {
		res := n.Run(context.Background(), stateWithDescription(desc))

		var ne *NodeError
		if !errors.As(res.Err, &ne) {
			t.Fatalf("Run(%q) Err = %v, want *NodeError", desc, res.Err)
		}
		if ne.Code != "EMPTY_DESCRIPTION" || !errors.Is(res.Err, ErrEmptyDescription) {
			t.Errorf("Run(%q) Err = %v (code %s)", desc, res.Err, ne.Code)
		}
		if !res.Delta.Empty() {
			t.Errorf("Run(%q) wrote a delta on failure", desc)
		}
	}
}

func TestUnderstandingWithoutClassifier(t *testing.T) {
	n := NewUnderstandingNode(UnderstandingConfig{})
	res := n.Run(context.Background(), stateWithDescription("  Login   page  times out "))

	if res.Err != nil || len(res.Warnings) != 0 || len(res.Calls) != 0 {
		t.Fatalf("Run() = %+v, want clean result", res)
	}
	if got := res.Delta.IssueDescription.Value(); got != "Login page times out" {
		t.Errorf("IssueDescription = %q", got)
	}
	want := Signature{IncidentType: FallbackIncidentType, AffectedArea: FallbackAffectedArea, Context: FallbackContext}
	if diff := cmp.Diff(want, res.Delta.Signature.Value()); diff != "" {
		t.Errorf("Signature mismatch (-want +got):\n%s", diff)
	}
}

func TestUnderstandingClassifier(t *testing.T) {
	tests := []struct {
		name        string
		chat        *model.MockChatModel
		want        Signature
		wantWarning bool
		wantCalls   int
	}{
		{
			name: "plain json",
			chat: &model.MockChatModel{Responses: []model.ChatOut{{
				Text:  `{"incident_type": "service_outage", "affected_area": "payments", "context": "checkout down"}`,
				Model: "gpt-4o-mini", TokensIn: 120, TokensOut: 30,
			}}},
			want:      Signature{IncidentType: "service_outage", AffectedArea: "payments", Context: "checkout down"},
			wantCalls: 1,
		},
		{
			name: "fenced and mixed case",
			chat: &model.MockChatModel{Responses: []model.ChatOut{{
				Text: "```json\n{\"incident_type\": \" Deployment_Issue \", \"affected_area\": \"LOGIN\", \"context\": \"\"}\n```",
			}}},
			want:      Signature{IncidentType: "deployment_issue", AffectedArea: "login", Context: FallbackContext},
			wantCalls: 1,
		},
		{
			name: "values outside taxonomy",
			chat: &model.MockChatModel{Responses: []model.ChatOut{{
				Text: `{"incident_type": "alien_invasion", "affected_area": "moon", "context": "odd"}`,
			}}},
			want:      Signature{IncidentType: FallbackIncidentType, AffectedArea: FallbackAffectedArea, Context: "odd"},
			wantCalls: 1,
		},
		{
			name:        "invalid json degrades",
			chat:        &model.MockChatModel{Responses: []model.ChatOut{{Text: "I think it's payments"}}},
			want:        Signature{IncidentType: FallbackIncidentType, AffectedArea: FallbackAffectedArea, Context: FallbackContext},
			wantWarning: true,
			wantCalls:   1,
		},
		{
			name:        "classifier error degrades",
			chat:        &model.MockChatModel{Err: model.Classify("mock", 500, errors.New("boom"))},
			want:        Signature{IncidentType: FallbackIncidentType, AffectedArea: FallbackAffectedArea, Context: FallbackContext},
			wantWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewUnderstandingNode(UnderstandingConfig{Classifier: tt.chat})
			res := n.Run(context.Background(), stateWithDescription("Checkout fails for everyone"))

			if res.Err != nil {
				t.Fatalf("Err = %v, classification problems must not be fatal", res.Err)
			}
			if diff := cmp.Diff(tt.want, res.Delta.Signature.Value()); diff != "" {
				t.Errorf("Signature mismatch (-want +got):\n%s", diff)
			}

			if tt.wantWarning {
				var ce *ClassificationError
				if len(res.Warnings) != 1 || !errors.As(res.Warnings[0], &ce) {
					t.Errorf("Warnings = %v, want one *ClassificationError", res.Warnings)
				}
			} else if len(res.Warnings) != 0 {
				t.Errorf("Warnings = %v, want none", res.Warnings)
			}

			if len(res.Calls) != tt.wantCalls {
				t.Errorf("Calls = %d, want %d", len(res.Calls), tt.wantCalls)
			}
		})
	}
}

func TestUnderstandingCallOptions(t *testing.T) {
	chat := &model.MockChatModel{Responses: []model.ChatOut{{Text: `{}`}}}
	n := NewUnderstandingNode(UnderstandingConfig{
		Classifier: chat,
		Taxonomy:   Taxonomy{IncidentTypes: []string{"disk_full"}, AffectedAreas: []string{"storage"}},
	})
	n.Run(context.Background(), stateWithDescription("disk is full"))

	if chat.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", chat.CallCount())
	}
	call := chat.Calls[0]
	if !call.Options.JSON || call.Options.Temperature == nil || *call.Options.Temperature != 0 {
		t.Errorf("Options = %+v, want JSON at temperature 0", call.Options)
	}
	if len(call.Messages) != 2 || call.Messages[1].Content != "disk is full" {
		t.Errorf("Messages = %+v", call.Messages)
	}
	if call.Messages[0].Role != model.RoleSystem {
		t.Errorf("first message role = %q, want system", call.Messages[0].Role)
	}
}

func TestUnderstandingClassifierTimeout(t *testing.T) {
	chat := &model.MockChatModel{Delay: time.Second, Responses: []model.ChatOut{{Text: `{}`}}}
	n := NewUnderstandingNode(UnderstandingConfig{Classifier: chat, CallTimeout: 10 * time.Millisecond})

	res := n.Run(context.Background(), stateWithDescription("orders stuck"))
	if len(res.Warnings) != 1 || !errors.Is(res.Warnings[0], ErrCallTimeout) {
		t.Fatalf("Warnings = %v, want a call timeout", res.Warnings)
	}
	if res.Delta.Signature.Value().IncidentType != FallbackIncidentType {
		t.Errorf("Signature = %+v, want fallback", res.Delta.Signature.Value())
	}
}
