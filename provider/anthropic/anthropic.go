package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/braid-ai/braid"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	// The API rejects requests without max_tokens.
	defaultMaxTokens = 4096
)

// Provider implements braid.Provider for the Anthropic Messages API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// New creates an Anthropic provider for the given model
// (e.g. "claude-sonnet-4-5").
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     model,
		baseURL:   defaultBaseURL,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "anthropic" }

// Chat sends a non-streaming request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req braid.ChatRequest) (braid.Message, error) {
	body := p.buildBody(req, false)
	resp, err := p.doRequest(ctx, body, false)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	apiResp, err := p.decodeResponse(resp)
	if err != nil {
		return braid.Message{}, err
	}
	return parseResponse(apiResp), nil
}

// ChatStream streams text deltas into ch, then returns the accumulated
// message. The caller's channel is never closed here.
func (p *Provider) ChatStream(ctx context.Context, req braid.ChatRequest, ch chan<- string) (braid.Message, error) {
	body := p.buildBody(req, true)
	resp, err := p.doRequest(ctx, body, true)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	return readStream(ctx, resp.Body, ch)
}

// Structured forces the model through a single tool whose input schema is
// the target shape and returns the tool_use input as the payload.
func (p *Provider) Structured(ctx context.Context, req braid.ChatRequest, schema braid.ResponseSchema) (json.RawMessage, error) {
	body := p.buildBody(req, false)
	toolName := schema.Name
	if toolName == "" {
		toolName = "structured_output"
	}
	desc := schema.Description
	if desc == "" {
		desc = "Record the structured answer."
	}
	body.Tools = []Tool{{
		Name:        toolName,
		Description: desc,
		InputSchema: schema.Schema,
	}}
	body.ToolChoice = map[string]string{"type": "tool", "name": toolName}

	resp, err := p.doRequest(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	apiResp, err := p.decodeResponse(resp)
	if err != nil {
		return nil, err
	}
	for _, block := range apiResp.Content {
		if block.Type == "tool_use" && block.Name == toolName {
			return block.Input, nil
		}
	}
	return nil, &braid.ProviderError{Provider: p.Name(), Message: "model did not use required tool"}
}

// buildBody converts a braid.ChatRequest into the Anthropic wire form.
// System text (req.Instructions plus any system-role turns) moves to the
// top-level system field; consecutive tool results group into one
// user-role turn so that roles keep alternating.
func (p *Provider) buildBody(req braid.ChatRequest, stream bool) Request {
	systemParts := make([]string, 0, 1)
	if req.Instructions != "" {
		systemParts = append(systemParts, req.Instructions)
	}

	var msgs []Message
	appendBlocks := func(role string, blocks ...Block) {
		// Merge into the previous turn when the role matches, so runs of
		// tool results become one user message with several blocks.
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
			return
		}
		msgs = append(msgs, Message{Role: role, Content: blocks})
	}

	for _, m := range req.Messages {
		switch c := m.Content.(type) {
		case braid.ToolCallRequest:
			blocks := make([]Block, 0, len(c.Calls))
			for _, call := range c.Calls {
				input := json.RawMessage(call.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, Block{
					Type:  "tool_use",
					ID:    call.CallID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
			appendBlocks("assistant", blocks...)

		case braid.ToolCallResult:
			appendBlocks("user", Block{
				Type:      "tool_result",
				ToolUseID: c.CallID,
				Content:   c.Content,
			})

		default:
			if m.Role == braid.RoleSystem {
				if text := m.Text(); text != "" {
					systemParts = append(systemParts, text)
				}
				continue
			}
			role := "user"
			if m.Role.IsAssistant() {
				role = "assistant"
			}
			blocks := buildBlocks(m)
			if len(blocks) == 0 {
				continue
			}
			appendBlocks(role, blocks...)
		}
	}

	body := Request{
		Model:     p.model,
		Messages:  msgs,
		MaxTokens: p.maxTokens,
		System:    strings.Join(systemParts, "\n\n"),
		Stream:    stream,
	}

	if len(req.Tools) > 0 {
		body.Tools = buildToolDefs(req.Tools)
	}
	if params := req.Params; params != nil {
		body.Temperature = params.Temperature
		body.TopP = params.TopP
		if params.MaxTokens > 0 {
			body.MaxTokens = params.MaxTokens
		}
		body.StopSequences = params.Stop
	}
	return body
}

func buildBlocks(m braid.Message) []Block {
	var blocks []Block
	if text := m.Text(); text != "" {
		blocks = append(blocks, Block{Type: "text", Text: text})
	}
	for _, att := range m.Attachments {
		if att.Type != braid.AttachmentImage {
			continue
		}
		src := &ImageSource{}
		if att.ContentType == braid.AttachmentURL {
			src.Type = "url"
			src.URL = att.Content
		} else {
			src.Type = "base64"
			src.MediaType = att.MediaType
			src.Data = att.Content
		}
		blocks = append(blocks, Block{Type: "image", Source: src})
	}
	return blocks
}

func buildToolDefs(tools []braid.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

// parseResponse converts an API response into a braid.Message. Tool-use
// blocks win over text, matching the agent loop's sum-type contract.
func parseResponse(resp *Response) braid.Message {
	var text strings.Builder
	var calls []braid.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" || !json.Valid(block.Input) {
				args = "{}"
			}
			calls = append(calls, braid.NewToolCall(block.ID, block.Name, args))
		}
	}

	out := braid.Message{Role: braid.RoleAssistant, Usage: parseUsage(resp.Usage)}
	if len(calls) > 0 {
		out.Content = braid.ToolCallRequest{MessageID: resp.ID, Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: text.String()}
	}
	return out
}

func parseUsage(u Usage) *braid.Usage {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return &braid.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

func (p *Provider) doRequest(ctx context.Context, body Request, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &braid.ProviderError{Provider: p.Name(), Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &braid.ProviderError{Provider: p.Name(), Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	client := p.client
	if stream && client.Timeout != 0 {
		c := *client
		c.Timeout = 0
		client = &c
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, braid.NewProviderHTTPError(p.Name(), resp.StatusCode, string(raw),
			braid.ParseRetryAfter(resp.Header.Get("Retry-After")))
	}
	return resp, nil
}

func (p *Provider) decodeResponse(resp *http.Response) (*Response, error) {
	var apiResp Response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &braid.ProviderError{Provider: p.Name(), Message: fmt.Sprintf("decode response: %v", err)}
	}
	if apiResp.Error != nil {
		return nil, &braid.ProviderError{Provider: p.Name(), Message: apiResp.Error.Message}
	}
	return &apiResp, nil
}

var _ braid.Provider = (*Provider)(nil)
