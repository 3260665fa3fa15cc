package openaicompat

import (
	"testing"

	"github.com/braid-ai/braid"
)

func TestParseResponse_Text(t *testing.T) {
	resp := ChatResponse{
		ID: "chatcmpl-123",
		Choices: []Choice{{
			Index:   0,
			Message: &ChoiceMessage{Role: "assistant", Content: "Hello there"},
		}},
		Usage: &Usage{PromptTokens: 12, CompletionTokens: 3},
	}

	msg, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}

	if msg.Role != braid.RoleAssistant {
		t.Errorf("expected assistant role, got %q", msg.Role)
	}
	if msg.Text() != "Hello there" {
		t.Errorf("expected text 'Hello there', got %q", msg.Text())
	}
	if msg.Usage == nil {
		t.Fatal("expected usage to be set")
	}
	if msg.Usage.PromptTokens != 12 || msg.Usage.CompletionTokens != 3 {
		t.Errorf("unexpected usage: %+v", msg.Usage)
	}
	// Total is derived when the backend omits it.
	if msg.Usage.TotalTokens != 15 {
		t.Errorf("expected total 15, got %d", msg.Usage.TotalTokens)
	}
}

func TestParseResponse_ToolCalls(t *testing.T) {
	resp := ChatResponse{
		ID: "chatcmpl-456",
		Choices: []Choice{{
			Message: &ChoiceMessage{
				Role: "assistant",
				ToolCalls: []ToolCallRequest{{
					ID:       "call_1",
					Type:     "function",
					Function: FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
				}},
			},
		}},
	}

	msg, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}

	req, ok := msg.ToolCalls()
	if !ok {
		t.Fatal("expected tool-call content")
	}
	if req.MessageID != "chatcmpl-456" {
		t.Errorf("expected message id from response, got %q", req.MessageID)
	}
	if len(req.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(req.Calls))
	}
	if req.Calls[0].CallID != "call_1" {
		t.Errorf("expected call id 'call_1', got %q", req.Calls[0].CallID)
	}
	if req.Calls[0].Function.Name != "get_weather" {
		t.Errorf("expected name 'get_weather', got %q", req.Calls[0].Function.Name)
	}
}

func TestParseResponse_Empty(t *testing.T) {
	msg, err := ParseResponse(ChatResponse{})
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if msg.Content != nil {
		t.Errorf("expected nil content for empty response, got %v", msg.Content)
	}
}

func TestParseToolCalls_InvalidArguments(t *testing.T) {
	calls := ParseToolCalls([]ToolCallRequest{{
		ID:       "call_bad",
		Function: FunctionCall{Name: "broken", Arguments: `{"unterminated`},
	}})

	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Function.Arguments != "{}" {
		t.Errorf("expected invalid args replaced with {}, got %q", calls[0].Function.Arguments)
	}
}
