package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/braid-ai/braid"
)

// GeminiEmbedding implements braid.EmbeddingProvider using the Gemini
// embedContent endpoint.
type GeminiEmbedding struct {
	apiKey     string
	model      string
	baseURL    string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates an embedding provider. dims selects the output
// dimensionality requested from the backend.
func NewEmbedding(apiKey, model string, dims int) *GeminiEmbedding {
	return &GeminiEmbedding{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		dims:       dims,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name returns "gemini".
func (g *GeminiEmbedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (g *GeminiEmbedding) Dimensions() int { return g.dims }

// Embed returns one vector per input text. The endpoint embeds a single
// content per call, so inputs are sent sequentially.
func (g *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := g.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (g *GeminiEmbedding) embedOne(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"content": map[string]any{
			"parts": []map[string]any{{"text": text}},
		},
	}
	if g.dims > 0 {
		body["outputDimensionality"] = g.dims
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &braid.ProviderError{Provider: "gemini", Message: "marshal body: " + err.Error()}
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, &braid.ProviderError{Provider: "gemini", Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &braid.ProviderError{Provider: "gemini", Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &braid.ProviderError{Provider: "gemini", Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpErr(resp, string(respBody))
	}

	var parsed struct {
		Embedding *struct {
			Values []float64 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &braid.ProviderError{Provider: "gemini", Message: "parse response: " + err.Error()}
	}
	if parsed.Embedding == nil {
		return nil, &braid.ProviderError{Provider: "gemini", Message: "response contains no embedding"}
	}

	vec := make([]float32, len(parsed.Embedding.Values))
	for i, v := range parsed.Embedding.Values {
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ braid.EmbeddingProvider = (*GeminiEmbedding)(nil)
