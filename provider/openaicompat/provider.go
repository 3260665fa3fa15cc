package openaicompat

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

// Base URLs for the hosted backends with first-class constructors.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	DeepseekBaseURL = "https://api.deepseek.com/v1"
	MistralBaseURL  = "https://api.mistral.ai/v1"
)

// Provider implements braid.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
//
// Provider-level options (WithOptions) are applied to every request.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for the OpenAI API.
func NewOpenAI(apiKey, model string, opts ...ProviderOption) *Provider {
	return NewProvider(apiKey, model, OpenAIBaseURL, opts...)
}

// NewDeepseek creates a provider for the DeepSeek API. DeepSeek speaks the
// OpenAI dialect, so this is NewProvider with the DeepSeek base URL.
func NewDeepseek(apiKey, model string, opts ...ProviderOption) *Provider {
	return NewProvider(apiKey, model, DeepseekBaseURL, append([]ProviderOption{WithName("deepseek")}, opts...)...)
}

// NewMistral creates a provider for the Mistral API.
func NewMistral(apiKey, model string, opts ...ProviderOption) *Provider {
	return NewProvider(apiKey, model, MistralBaseURL, append([]ProviderOption{WithName("mistral")}, opts...)...)
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat request and returns the complete response.
// When req.Tools is non-empty, the response may carry a tool-call request.
func (p *Provider) Chat(ctx context.Context, req braid.ChatRequest) (braid.Message, error) {
	body := BuildBody(p.model, req, nil, p.opts...)
	return p.doRequest(ctx, body)
}

// ChatStream streams text deltas into ch, then returns the final
// accumulated message. The caller's channel is never closed here.
func (p *Provider) ChatStream(ctx context.Context, req braid.ChatRequest, ch chan<- string) (braid.Message, error) {
	body := BuildBody(p.model, req, nil, p.opts...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body, true)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return braid.Message{}, p.httpErr(resp)
	}

	return StreamSSE(ctx, resp.Body, ch)
}

// Structured asks the backend for JSON matching schema via response_format
// json_schema mode and returns the raw payload.
func (p *Provider) Structured(ctx context.Context, req braid.ChatRequest, schema braid.ResponseSchema) (json.RawMessage, error) {
	body := BuildBody(p.model, req, &schema, p.opts...)
	msg, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(msg.Text())
	if raw == "" || !json.Valid([]byte(raw)) {
		return nil, &braid.ProviderError{Provider: p.name, Message: "structured response is not valid JSON"}
	}
	return json.RawMessage(raw), nil
}

// doRequest sends a non-streaming request and parses the response.
func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (braid.Message, error) {
	resp, err := p.sendHTTP(ctx, body, false)
	if err != nil {
		return braid.Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return braid.Message{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return braid.Message{}, &braid.ProviderError{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return ParseResponse(chatResp)
}

// sendHTTP marshals the request body and posts it to the chat completions
// endpoint. Stream requests drop the client timeout and rely on ctx.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &braid.ProviderError{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &braid.ProviderError{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.httpClient(stream).Do(httpReq)
}

// httpClient returns the configured client, stripped of its timeout for
// streaming so long responses are bounded by ctx instead.
func (p *Provider) httpClient(stream bool) *http.Client {
	if stream && p.client.Timeout != 0 {
		c := *p.client
		c.Timeout = 0
		return &c
	}
	return p.client
}

// httpErr reads the response body and returns a ProviderError for retry
// middleware. Parses the Retry-After header when present.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return braid.NewProviderHTTPError(p.name, resp.StatusCode, string(body),
		braid.ParseRetryAfter(resp.Header.Get("Retry-After")))
}

var _ braid.Provider = (*Provider)(nil)
