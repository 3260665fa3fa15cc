package openaicompat

import (
	"encoding/json"

	"github.com/braid-ai/braid"
)

// ParseResponse converts an OpenAI-format ChatResponse to a braid.Message.
// Tool calls in choices[0] become ToolCallRequest content; otherwise the
// content string becomes TextContent.
func ParseResponse(resp ChatResponse) (braid.Message, error) {
	out := braid.Message{Role: braid.RoleAssistant}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if msg != nil {
			if len(msg.ToolCalls) > 0 {
				out.Content = braid.ToolCallRequest{
					MessageID: resp.ID,
					Calls:     ParseToolCalls(msg.ToolCalls),
				}
			} else {
				out.Content = braid.TextContent{Text: msg.Content}
			}
		}
	}

	if resp.Usage != nil {
		out.Usage = parseUsage(resp.Usage)
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to braid ToolCalls.
// Arguments stay as the JSON string the backend produced; invalid JSON is
// replaced with "{}".
func ParseToolCalls(tcs []ToolCallRequest) []braid.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]braid.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := tc.Function.Arguments
		if !json.Valid([]byte(args)) {
			args = "{}"
		}
		out = append(out, braid.NewToolCall(tc.ID, tc.Function.Name, args))
	}
	return out
}

func parseUsage(u *Usage) *braid.Usage {
	out := &braid.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}
