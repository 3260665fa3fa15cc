package ollama

import "net/http"

// Option configures an Ollama provider.
type Option func(*Ollama)

// WithBaseURL overrides the server address (default http://localhost:11434).
func WithBaseURL(url string) Option {
	return func(o *Ollama) { o.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Ollama) { o.httpClient = c }
}
