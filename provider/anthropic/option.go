package anthropic

import "net/http"

// Option configures a Provider instance.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (e.g. for a proxy or gateway).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithMaxTokens sets the default max_tokens for every request
// (default 4096). Per-request GenerationParams.MaxTokens still wins.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}
