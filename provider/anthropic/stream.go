package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/braid-ai/braid"
)

// partialTool accumulates a tool_use block across streaming events:
// content_block_start carries id and name, then input_json_delta
// fragments build up the arguments.
type partialTool struct {
	id   string
	name string
	args strings.Builder
}

// readStream decodes the Anthropic SSE event stream, forwarding text
// deltas to ch and assembling tool calls from input_json_delta fragments.
// The caller owns ch; nothing is sent after readStream returns.
func readStream(ctx context.Context, body io.Reader, ch chan<- string) (braid.Message, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var (
		text      strings.Builder
		usage     Usage
		messageID string
	)

	openTools := map[int]*partialTool{}
	var order []int

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				messageID = ev.Message.ID
				usage.InputTokens = ev.Message.Usage.InputTokens
				usage.OutputTokens = ev.Message.Usage.OutputTokens
			}

		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				openTools[ev.Index] = &partialTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				order = append(order, ev.Index)
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.Text != "" {
				text.WriteString(ev.Delta.Text)
				select {
				case ch <- ev.Delta.Text:
				case <-ctx.Done():
					return braid.Message{}, ctx.Err()
				}
			}
			if ev.Delta.Type == "input_json_delta" && ev.Delta.PartialJSON != "" {
				if pt, ok := openTools[ev.Index]; ok {
					pt.args.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "message_delta":
			if ev.Usage != nil {
				if ev.Usage.InputTokens != 0 {
					usage.InputTokens = ev.Usage.InputTokens
				}
				usage.OutputTokens = ev.Usage.OutputTokens
			}

		case "message_stop":
			return assembleStreamMessage(messageID, text.String(), openTools, order, usage), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return braid.Message{}, err
	}
	// Stream ended without message_stop; return what accumulated.
	return assembleStreamMessage(messageID, text.String(), openTools, order, usage), nil
}

func assembleStreamMessage(id, text string, tools map[int]*partialTool, order []int, usage Usage) braid.Message {
	out := braid.Message{Role: braid.RoleAssistant, Usage: parseUsage(usage)}
	if len(order) > 0 {
		calls := make([]braid.ToolCall, 0, len(order))
		for _, idx := range order {
			pt := tools[idx]
			args := pt.args.String()
			if args == "" || !json.Valid([]byte(args)) {
				args = "{}"
			}
			calls = append(calls, braid.NewToolCall(pt.id, pt.name, args))
		}
		out.Content = braid.ToolCallRequest{MessageID: id, Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: text}
	}
	return out
}
