// Package gemini implements the Google Gemini chat and embedding providers.
package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/braid-ai/braid"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements braid.Provider for Google Gemini models.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	temperature float64
	topP        float64
}

// New creates a new Gemini chat provider with functional options.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		model:       model,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends a non-streaming chat request and returns the complete response.
func (g *Gemini) Chat(ctx context.Context, req braid.ChatRequest) (braid.Message, error) {
	body := g.buildBody(req)
	parsed, err := g.generate(ctx, body)
	if err != nil {
		return braid.Message{}, err
	}
	return parseMessage(parsed), nil
}

// ChatStream streams text deltas into ch, then returns the accumulated
// message. The caller's channel is never closed here.
func (g *Gemini) ChatStream(ctx context.Context, req braid.ChatRequest, ch chan<- string) (braid.Message, error) {
	body := g.buildBody(req)

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, g.model, g.apiKey)
	resp, err := g.post(ctx, url, body, true)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	var (
		fullContent strings.Builder
		usage       *braid.Usage
		attachments []braid.Attachment
		calls       []braid.ToolCall
	)

	handleChunk := func(data string) error {
		var parsed geminiResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			// Skip malformed chunks.
			return nil
		}
		if parsed.UsageMetadata != nil {
			usage = parseUsage(parsed.UsageMetadata)
		}
		if len(parsed.Candidates) == 0 {
			return nil
		}
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != nil && *part.Text != "" {
				fullContent.WriteString(*part.Text)
				select {
				case ch <- *part.Text:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if part.FunctionCall != nil {
				calls = append(calls, parseFunctionCall(part.FunctionCall))
			}
			if part.InlineData != nil {
				attachments = append(attachments, parseInlineData(part.InlineData))
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(resp.Body)
	// Image generation can return base64 data in a single multi-megabyte chunk.
	scanner.Buffer(make([]byte, 0, 16*1024*1024), 16*1024*1024)

	// Gemini sometimes splits a JSON frame across SSE reads; buffer until
	// braces balance.
	var jsonBuf strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			if jsonBuf.Len() > 0 {
				jsonBuf.WriteString(line)
				if isCompleteJSON(jsonBuf.String()) {
					if err := handleChunk(jsonBuf.String()); err != nil {
						return braid.Message{}, err
					}
					jsonBuf.Reset()
				}
			}
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		if isCompleteJSON(data) {
			if err := handleChunk(data); err != nil {
				return braid.Message{}, err
			}
		} else {
			jsonBuf.Reset()
			jsonBuf.WriteString(data)
		}
	}
	if err := scanner.Err(); err != nil {
		return braid.Message{}, err
	}

	if jsonBuf.Len() > 0 && isCompleteJSON(jsonBuf.String()) {
		if err := handleChunk(jsonBuf.String()); err != nil {
			return braid.Message{}, err
		}
	}

	out := braid.Message{Role: braid.RoleAssistant, Usage: usage, Attachments: attachments}
	if len(calls) > 0 {
		out.Content = braid.ToolCallRequest{Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: fullContent.String()}
	}
	return out, nil
}

// Structured forces the model through a single declared function whose
// parameters are the target schema, and returns the function-call args.
func (g *Gemini) Structured(ctx context.Context, req braid.ChatRequest, schema braid.ResponseSchema) (json.RawMessage, error) {
	name := schema.Name
	if name == "" {
		name = "structured_output"
	}

	var params any
	if err := json.Unmarshal(schema.Schema, &params); err != nil {
		params = map[string]any{"type": "object"}
	}

	body := g.buildBody(req)
	body["tools"] = []map[string]any{{
		"functionDeclarations": []map[string]any{{
			"name":        name,
			"description": schema.Description,
			"parameters":  params,
		}},
	}}
	body["toolConfig"] = map[string]any{
		"functionCallingConfig": map[string]any{
			"mode":                 "ANY",
			"allowedFunctionNames": []string{name},
		},
	}

	parsed, err := g.generate(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.FunctionCall != nil && part.FunctionCall.Name == name {
				if len(part.FunctionCall.Args) == 0 {
					return json.RawMessage(`{}`), nil
				}
				return part.FunctionCall.Args, nil
			}
		}
	}
	return nil, &braid.ProviderError{Provider: "gemini", Message: "model did not use required tool"}
}

// generate performs a non-streaming generateContent call.
func (g *Gemini) generate(ctx context.Context, body map[string]any) (*geminiResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	resp, err := g.post(ctx, url, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.wrapErr("read response: " + err.Error())
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, g.wrapErr("parse response: " + err.Error())
	}
	return &parsed, nil
}

// post marshals body and sends it, translating non-2xx statuses into
// ProviderError with any retry hints the backend provides.
func (g *Gemini) post(ctx context.Context, url string, body map[string]any, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, g.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := g.httpClient
	if stream && client.Timeout != 0 {
		c := *client
		c.Timeout = 0
		client = &c
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, g.wrapErr("request failed: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, httpErr(resp, string(b))
	}
	return resp, nil
}

func (g *Gemini) wrapErr(msg string) error {
	return &braid.ProviderError{Provider: "gemini", Message: msg}
}

// httpErr builds a ProviderError from an HTTP failure, extracting the retry
// delay from the Retry-After header or from the google.rpc.RetryInfo detail
// in the JSON error body.
func httpErr(resp *http.Response, body string) error {
	ra := braid.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return braid.NewProviderHTTPError("gemini", resp.StatusCode, body, ra)
}

// parseRetryInfo extracts retryDelay seconds from a Gemini error body
// containing a google.rpc.RetryInfo detail. Returns 0 if absent.
func parseRetryInfo(body string) int {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil && d > 0 {
				return int((d + time.Second - 1) / time.Second)
			}
		}
	}
	return 0
}

// ---- Body builder ----

// buildBody constructs the generateContent request body. Instructions and
// system-role turns merge into systemInstruction; assistant turns map to
// role "model"; tool results become functionResponse parts under user role.
func (g *Gemini) buildBody(req braid.ChatRequest) map[string]any {
	systemParts := make([]string, 0, 1)
	if req.Instructions != "" {
		systemParts = append(systemParts, req.Instructions)
	}

	var contents []map[string]any
	for _, m := range req.Messages {
		switch c := m.Content.(type) {
		case braid.ToolCallRequest:
			parts := make([]map[string]any, 0, len(c.Calls))
			for _, call := range c.Calls {
				var args any
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args == nil {
					args = map[string]any{}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": call.Function.Name,
						"args": args,
					},
				})
			}
			contents = append(contents, map[string]any{"role": "model", "parts": parts})

		case braid.ToolCallResult:
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     c.ToolName,
						"response": map[string]any{"result": c.Content},
					},
				}},
			})

		default:
			if m.Role == braid.RoleSystem {
				if text := m.Text(); text != "" {
					systemParts = append(systemParts, text)
				}
				continue
			}

			var parts []map[string]any
			if text := m.Text(); text != "" {
				parts = append(parts, map[string]any{"text": text})
			}
			for _, att := range m.Attachments {
				if att.ContentType == braid.AttachmentURL {
					parts = append(parts, map[string]any{
						"fileData": map[string]any{
							"mimeType": att.MediaType,
							"fileUri":  att.Content,
						},
					})
				} else if att.Content != "" {
					parts = append(parts, map[string]any{
						"inlineData": map[string]any{
							"mimeType": att.MediaType,
							"data":     att.Content,
						},
					})
				}
			}
			// Gemini requires at least one part.
			if len(parts) == 0 {
				parts = append(parts, map[string]any{"text": ""})
			}

			role := "user"
			if m.Role.IsAssistant() {
				role = "model"
			}
			contents = append(contents, map[string]any{"role": role, "parts": parts})
		}
	}

	body := map[string]any{"contents": contents}

	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": strings.Join(systemParts, "\n\n")}},
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if err := json.Unmarshal(t.Parameters, &params); err != nil || params == nil {
				params = map[string]any{}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": declarations}}
	}

	genConfig := map[string]any{
		"temperature": g.temperature,
		"topP":        g.topP,
	}
	if params := req.Params; params != nil {
		if params.Temperature != nil {
			genConfig["temperature"] = *params.Temperature
		}
		if params.TopP != nil {
			genConfig["topP"] = *params.TopP
		}
		if params.MaxTokens > 0 {
			genConfig["maxOutputTokens"] = params.MaxTokens
		}
		if len(params.Stop) > 0 {
			genConfig["stopSequences"] = params.Stop
		}
	}
	body["generationConfig"] = genConfig

	return body
}

// ---- Response parsing ----

func parseMessage(parsed *geminiResponse) braid.Message {
	var (
		content     strings.Builder
		calls       []braid.ToolCall
		attachments []braid.Attachment
	)

	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != nil {
				content.WriteString(*part.Text)
			}
			if part.FunctionCall != nil {
				calls = append(calls, parseFunctionCall(part.FunctionCall))
			}
			if part.InlineData != nil {
				attachments = append(attachments, parseInlineData(part.InlineData))
			}
		}
	}

	out := braid.Message{Role: braid.RoleAssistant, Attachments: attachments}
	if parsed.UsageMetadata != nil {
		out.Usage = parseUsage(parsed.UsageMetadata)
	}
	if len(calls) > 0 {
		out.Content = braid.ToolCallRequest{Calls: calls}
	} else {
		out.Content = braid.TextContent{Text: content.String()}
	}
	return out
}

// parseFunctionCall converts a functionCall part. Gemini carries no call
// IDs, so the function name doubles as the ID.
func parseFunctionCall(fc *geminiFuncCall) braid.ToolCall {
	args := string(fc.Args)
	if args == "" || !json.Valid(fc.Args) {
		args = "{}"
	}
	return braid.NewToolCall(fc.Name, fc.Name, args)
}

func parseInlineData(d *geminiInlineData) braid.Attachment {
	attType := braid.AttachmentDocument
	if strings.HasPrefix(d.MimeType, "image/") {
		attType = braid.AttachmentImage
	}
	return braid.Attachment{
		Type:        attType,
		ContentType: braid.AttachmentBase64,
		MediaType:   d.MimeType,
		Content:     d.Data,
	}
}

func parseUsage(u *geminiUsage) *braid.Usage {
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return &braid.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      total,
	}
}

// ---- Wire types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         *string           `json:"text,omitempty"`
	FunctionCall *geminiFuncCall   `json:"functionCall,omitempty"`
	InlineData   *geminiInlineData `json:"inlineData,omitempty"`
	Thought      bool              `json:"thought,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// isCompleteJSON checks whether a string has balanced braces/brackets,
// indicating it is a complete JSON value.
func isCompleteJSON(s string) bool {
	depth := 0
	inString := false
	escape := false

	for _, ch := range s {
		if escape {
			escape = false
			continue
		}
		if ch == '\\' && inString {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth == 0 && !inString
}

var _ braid.Provider = (*Gemini)(nil)
