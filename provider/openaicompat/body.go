package openaicompat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/braid-ai/braid"
)

// BuildBody converts a braid.ChatRequest into an OpenAI-format request body.
// req.Instructions becomes a leading role:"system" message; tool-call turns
// map to tool_calls / tool_call_id; attachments become content blocks.
// Options configure generation parameters (temperature, top_p, etc.).
func BuildBody(model string, req braid.ChatRequest, schema *braid.ResponseSchema, opts ...Option) ChatRequest {
	var msgs []Message

	if req.Instructions != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.Instructions})
	}

	for _, m := range req.Messages {
		switch c := m.Content.(type) {
		case braid.ToolCallRequest:
			var tcs []ToolCallRequest
			for _, call := range c.Calls {
				tcs = append(tcs, ToolCallRequest{
					ID:   call.CallID,
					Type: "function",
					Function: FunctionCall{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				})
			}
			msgs = append(msgs, Message{Role: "assistant", ToolCalls: tcs})

		case braid.ToolCallResult:
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    c.Content,
				ToolCallID: c.CallID,
			})

		default:
			role := string(m.Role)
			if m.Role.IsAssistant() {
				role = "assistant"
			}
			if len(m.Attachments) > 0 {
				msgs = append(msgs, Message{Role: role, Content: buildBlocks(m)})
			} else {
				msgs = append(msgs, Message{Role: role, Content: m.Text()})
			}
		}
	}

	body := ChatRequest{
		Model:    model,
		Messages: msgs,
	}

	if len(req.Tools) > 0 {
		body.Tools = BuildToolDefs(req.Tools)
	}

	// Structured output: enforce JSON response matching the schema.
	if schema != nil && len(schema.Schema) > 0 {
		body.ResponseFormat = &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
				Strict: true,
			},
		}
	}

	for _, opt := range genParamOptions(req.Params) {
		opt(&body)
	}
	for _, opt := range opts {
		opt(&body)
	}

	return body
}

// buildBlocks renders a message with attachments as a content block array.
func buildBlocks(m braid.Message) []ContentBlock {
	var blocks []ContentBlock
	if text := m.Text(); text != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: text})
	}
	for _, att := range m.Attachments {
		url := att.Content
		if att.ContentType == braid.AttachmentBase64 {
			url = fmt.Sprintf("data:%s;base64,%s", att.MediaType, att.Content)
		}
		if att.Type == braid.AttachmentImage || strings.HasPrefix(att.MediaType, "image/") {
			blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		} else {
			blocks = append(blocks, ContentBlock{Type: "file", File: &FileData{FileData: url}})
		}
	}
	return blocks
}

// genParamOptions maps braid.GenerationParams onto request options.
func genParamOptions(params *braid.GenerationParams) []Option {
	if params == nil {
		return nil
	}
	var opts []Option
	if params.Temperature != nil {
		opts = append(opts, WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, WithTopP(*params.TopP))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, WithStop(params.Stop...))
	}
	return opts
}

// BuildToolDefs converts braid ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []braid.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
