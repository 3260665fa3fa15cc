package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/braid-ai/braid"
)

// StreamSSE reads an SSE stream from body, forwards text deltas to ch, and
// returns the fully accumulated message (content, tool calls, and usage).
// The caller owns ch; nothing is sent after StreamSSE returns.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- string) (braid.Message, error) {
	scanner := bufio.NewScanner(body)
	// Large SSE payloads need headroom beyond the default 64K.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var usage *braid.Usage
	var messageID string

	// OpenAI streams tool calls incrementally: each chunk carries an index,
	// and arguments arrive as string fragments.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.ID != "" {
			messageID = chunk.ID
		}
		if chunk.Usage != nil {
			usage = parseUsage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			// Usage-only chunk (some providers send this).
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- delta.Content:
			case <-ctx.Done():
				return braid.Message{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return braid.Message{}, err
	}

	out := braid.Message{Role: braid.RoleAssistant, Usage: usage}
	if len(toolCalls) > 0 {
		calls := make([]braid.ToolCall, 0, len(toolCalls))
		for _, tc := range toolCalls {
			args := tc.Args.String()
			if !json.Valid([]byte(args)) {
				args = "{}"
			}
			calls = append(calls, braid.NewToolCall(tc.ID, tc.Name, args))
		}
		out.Content = braid.ToolCallRequest{MessageID: messageID, Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: fullContent.String()}
	}
	return out, nil
}
