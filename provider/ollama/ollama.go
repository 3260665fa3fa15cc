// Package ollama implements chat and embedding providers for a local
// Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/braid-ai/braid"
)

const defaultBaseURL = "http://localhost:11434"

// Ollama implements braid.Provider against the /api/chat endpoint.
type Ollama struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a provider for the given model. The server address defaults
// to http://localhost:11434.
func New(model string, opts ...Option) *Ollama {
	o := &Ollama{
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.baseURL = strings.TrimSuffix(o.baseURL, "/")
	return o
}

// Name returns "ollama".
func (o *Ollama) Name() string { return "ollama" }

// Chat sends a non-streaming chat request.
func (o *Ollama) Chat(ctx context.Context, req braid.ChatRequest) (braid.Message, error) {
	body := o.buildBody(req, false, nil)

	resp, err := o.send(ctx, body, false)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return braid.Message{}, o.wrapErr("decode response: " + err.Error())
	}
	if parsed.Error != "" {
		return braid.Message{}, o.wrapErr(parsed.Error)
	}
	return parseMessage(&parsed), nil
}

// ChatStream streams NDJSON chat frames, forwarding text deltas into ch.
// The terminal done frame carries the token counts. The caller's channel
// is never closed here.
func (o *Ollama) ChatStream(ctx context.Context, req braid.ChatRequest, ch chan<- string) (braid.Message, error) {
	body := o.buildBody(req, true, nil)

	resp, err := o.send(ctx, body, true)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	var (
		fullContent strings.Builder
		calls       []braid.ToolCall
		usage       *braid.Usage
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed frames.
			continue
		}
		if chunk.Error != "" {
			return braid.Message{}, o.wrapErr(chunk.Error)
		}

		if chunk.Message.Content != "" {
			fullContent.WriteString(chunk.Message.Content)
			select {
			case ch <- chunk.Message.Content:
			case <-ctx.Done():
				return braid.Message{}, ctx.Err()
			}
		}

		// Tool calls arrive complete within a frame.
		for _, tc := range chunk.Message.ToolCalls {
			calls = append(calls, parseToolCall(tc))
		}

		if chunk.Done {
			usage = parseEvalCounts(&chunk)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return braid.Message{}, err
	}

	out := braid.Message{Role: braid.RoleAssistant, Usage: usage}
	if len(calls) > 0 {
		out.Content = braid.ToolCallRequest{Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: fullContent.String()}
	}
	return out, nil
}

// Structured passes the schema through Ollama's format field, which
// constrains decoding server-side, and returns the raw JSON reply.
func (o *Ollama) Structured(ctx context.Context, req braid.ChatRequest, schema braid.ResponseSchema) (json.RawMessage, error) {
	format := schema.Schema
	if len(format) == 0 {
		format = json.RawMessage(`"json"`)
	}
	body := o.buildBody(req, false, format)

	resp, err := o.send(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, o.wrapErr("decode response: " + err.Error())
	}
	if parsed.Error != "" {
		return nil, o.wrapErr(parsed.Error)
	}

	text := strings.TrimSpace(parsed.Message.Content)
	if text == "" || !json.Valid([]byte(text)) {
		return nil, o.wrapErr("structured response is not valid JSON")
	}
	return json.RawMessage(text), nil
}

func (o *Ollama) send(ctx context.Context, body chatRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, o.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, o.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := o.httpClient
	if stream && client.Timeout != 0 {
		c := *client
		c.Timeout = 0
		client = &c
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, o.wrapErr("request failed: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		ra := braid.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, braid.NewProviderHTTPError("ollama", resp.StatusCode, string(b), ra)
	}
	return resp, nil
}

func (o *Ollama) wrapErr(msg string) error {
	return &braid.ProviderError{Provider: "ollama", Message: msg}
}

// buildBody converts a ChatRequest into the Ollama wire form. Tool call
// arguments travel as objects on the wire and as strings in braid, so they
// are re-parsed on the way out and re-stringified on the way in.
func (o *Ollama) buildBody(req braid.ChatRequest, stream bool, format json.RawMessage) chatRequest {
	var messages []chatMessage

	if req.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Instructions})
	}

	for _, m := range req.Messages {
		switch c := m.Content.(type) {
		case braid.ToolCallRequest:
			calls := make([]toolCall, 0, len(c.Calls))
			for _, call := range c.Calls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args == nil {
					args = map[string]any{}
				}
				calls = append(calls, toolCall{
					Type:     "function",
					Function: toolCallFunc{Name: call.Function.Name, Arguments: args},
				})
			}
			messages = append(messages, chatMessage{Role: "assistant", ToolCalls: calls})

		case braid.ToolCallResult:
			messages = append(messages, chatMessage{
				Role:     "tool",
				Content:  c.Content,
				ToolName: c.ToolName,
			})

		default:
			role := "user"
			switch {
			case m.Role == braid.RoleSystem:
				role = "system"
			case m.Role.IsAssistant():
				role = "assistant"
			}
			msg := chatMessage{Role: role, Content: m.Text()}
			for _, att := range m.Attachments {
				if att.Type == braid.AttachmentImage && att.ContentType == braid.AttachmentBase64 {
					msg.Images = append(msg.Images, att.Content)
				}
			}
			messages = append(messages, msg)
		}
	}

	body := chatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
		Format:   format,
	}

	if len(req.Tools) > 0 {
		body.Tools = make([]toolDef, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Parameters
			if len(params) == 0 {
				params = json.RawMessage(`{}`)
			}
			body.Tools = append(body.Tools, toolDef{
				Type:     "function",
				Function: toolDefFunc{Name: t.Name, Description: t.Description, Parameters: params},
			})
		}
	}

	if p := req.Params; p != nil {
		opts := &chatOptions{
			Temperature: p.Temperature,
			TopP:        p.TopP,
			Stop:        p.Stop,
		}
		if p.MaxTokens > 0 {
			opts.NumPredict = p.MaxTokens
		}
		body.Options = opts
	}

	return body
}

func parseMessage(parsed *chatResponse) braid.Message {
	out := braid.Message{Role: braid.RoleAssistant, Usage: parseEvalCounts(parsed)}
	if len(parsed.Message.ToolCalls) > 0 {
		calls := make([]braid.ToolCall, 0, len(parsed.Message.ToolCalls))
		for _, tc := range parsed.Message.ToolCalls {
			calls = append(calls, parseToolCall(tc))
		}
		out.Content = braid.ToolCallRequest{Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: parsed.Message.Content}
	}
	return out
}

// parseToolCall re-stringifies the argument object. Ollama assigns no call
// IDs, so the function name doubles as the ID.
func parseToolCall(tc toolCall) braid.ToolCall {
	args := "{}"
	if len(tc.Function.Arguments) > 0 {
		if b, err := json.Marshal(tc.Function.Arguments); err == nil {
			args = string(b)
		}
	}
	return braid.NewToolCall(tc.Function.Name, tc.Function.Name, args)
}

func parseEvalCounts(r *chatResponse) *braid.Usage {
	if r.PromptEvalCount == 0 && r.EvalCount == 0 {
		return nil
	}
	return &braid.Usage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

// ---- Wire types ----

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *chatOptions    `json:"options,omitempty"`
	Tools    []toolDef       `json:"tools,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type toolCall struct {
	Type     string       `json:"type,omitempty"`
	Function toolCallFunc `json:"function"`
}

type toolCallFunc struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function toolDefFunc `json:"function"`
}

type toolDefFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error,omitempty"`
}

var _ braid.Provider = (*Ollama)(nil)
