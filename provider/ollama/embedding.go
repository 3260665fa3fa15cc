package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/braid-ai/braid"
)

// OllamaEmbedding implements braid.EmbeddingProvider against /api/embed,
// which accepts a batch of inputs per call.
type OllamaEmbedding struct {
	model      string
	baseURL    string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates an embedding provider. dims declares the vector
// size the model produces; the server does not report it up front.
func NewEmbedding(model string, dims int, opts ...EmbeddingOption) *OllamaEmbedding {
	e := &OllamaEmbedding{
		model:      model,
		baseURL:    defaultBaseURL,
		dims:       dims,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.baseURL = strings.TrimSuffix(e.baseURL, "/")
	return e
}

// Name returns "ollama".
func (e *OllamaEmbedding) Name() string { return "ollama" }

// Dimensions returns the declared embedding dimensionality.
func (e *OllamaEmbedding) Dimensions() int { return e.dims }

// Embed returns one vector per input text in a single batch call.
func (e *OllamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{"model": e.model, "input": texts}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &braid.ProviderError{Provider: "ollama", Message: "marshal body: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, &braid.ProviderError{Provider: "ollama", Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &braid.ProviderError{Provider: "ollama", Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &braid.ProviderError{Provider: "ollama", Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := braid.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, braid.NewProviderHTTPError("ollama", resp.StatusCode, string(respBody), ra)
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
		Error      string      `json:"error"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &braid.ProviderError{Provider: "ollama", Message: "parse response: " + err.Error()}
	}
	if parsed.Error != "" {
		return nil, &braid.ProviderError{Provider: "ollama", Message: parsed.Error}
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, &braid.ProviderError{Provider: "ollama", Message: "embedding count does not match input count"}
	}
	return parsed.Embeddings, nil
}

// EmbeddingOption configures an OllamaEmbedding.
type EmbeddingOption func(*OllamaEmbedding)

// WithEmbeddingBaseURL overrides the server address.
func WithEmbeddingBaseURL(url string) EmbeddingOption {
	return func(e *OllamaEmbedding) { e.baseURL = url }
}

// WithEmbeddingHTTPClient replaces the default HTTP client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *OllamaEmbedding) { e.httpClient = c }
}

var _ braid.EmbeddingProvider = (*OllamaEmbedding)(nil)
