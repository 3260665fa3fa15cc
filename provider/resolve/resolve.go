// Package resolve constructs providers from "backend/model" strings such
// as "openai/gpt-4.1" or "ollama/llama3.2".
package resolve

import (
	"fmt"
	"strings"

	"github.com/braid-ai/braid"
	"github.com/braid-ai/braid/provider/anthropic"
	"github.com/braid-ai/braid/provider/gemini"
	"github.com/braid-ai/braid/provider/ollama"
	"github.com/braid-ai/braid/provider/openaicompat"
)

// Options carries credentials and cross-backend defaults. Keys are passed
// explicitly; nothing is read from the environment here.
type Options struct {
	OpenAIKey    string
	DeepseekKey  string
	MistralKey   string
	AnthropicKey string
	GeminiKey    string

	// OllamaURL overrides the local server address for ollama/ models.
	OllamaURL string

	// BaseURL overrides the endpoint of whichever backend is selected.
	BaseURL string

	// Applied where the backend accepts construction-time sampling
	// defaults (openai-compatible backends and gemini).
	Temperature *float64
	TopP        *float64
}

// Provider resolves a model string to a constructed chat provider. The
// prefix before the first slash selects the backend; the remainder is the
// model name. An unknown prefix is an error.
func Provider(model string, opts Options) (braid.Provider, error) {
	backend, name, ok := strings.Cut(model, "/")
	if !ok || name == "" {
		return nil, fmt.Errorf("resolve: model %q is not in backend/model form", model)
	}

	switch backend {
	case "openai":
		return compatProvider(backend, opts.OpenAIKey, name, openaicompat.OpenAIBaseURL, opts), nil
	case "deepseek":
		return compatProvider(backend, opts.DeepseekKey, name, openaicompat.DeepseekBaseURL, opts), nil
	case "mistral":
		return compatProvider(backend, opts.MistralKey, name, openaicompat.MistralBaseURL, opts), nil
	case "anthropic":
		var aOpts []anthropic.Option
		if opts.BaseURL != "" {
			aOpts = append(aOpts, anthropic.WithBaseURL(opts.BaseURL))
		}
		return anthropic.New(opts.AnthropicKey, name, aOpts...), nil
	case "gemini":
		var gOpts []gemini.Option
		if opts.BaseURL != "" {
			gOpts = append(gOpts, gemini.WithBaseURL(opts.BaseURL))
		}
		if opts.Temperature != nil {
			gOpts = append(gOpts, gemini.WithTemperature(*opts.Temperature))
		}
		if opts.TopP != nil {
			gOpts = append(gOpts, gemini.WithTopP(*opts.TopP))
		}
		return gemini.New(opts.GeminiKey, name, gOpts...), nil
	case "ollama":
		var oOpts []ollama.Option
		if url := ollamaURL(opts); url != "" {
			oOpts = append(oOpts, ollama.WithBaseURL(url))
		}
		return ollama.New(name, oOpts...), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q in model %q", backend, model)
	}
}

// EmbeddingProvider resolves a model string to an embedding provider.
// Supported backends: gemini/ and ollama/.
func EmbeddingProvider(model string, dims int, opts Options) (braid.EmbeddingProvider, error) {
	backend, name, ok := strings.Cut(model, "/")
	if !ok || name == "" {
		return nil, fmt.Errorf("resolve: model %q is not in backend/model form", model)
	}

	switch backend {
	case "gemini":
		return gemini.NewEmbedding(opts.GeminiKey, name, dims), nil
	case "ollama":
		var eOpts []ollama.EmbeddingOption
		if url := ollamaURL(opts); url != "" {
			eOpts = append(eOpts, ollama.WithEmbeddingBaseURL(url))
		}
		return ollama.NewEmbedding(name, dims, eOpts...), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", backend)
	}
}

func compatProvider(name, apiKey, model, defaultURL string, opts Options) braid.Provider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}

	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(name)}

	var reqOpts []openaicompat.Option
	if opts.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*opts.Temperature))
	}
	if opts.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*opts.TopP))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}

	return openaicompat.NewProvider(apiKey, model, baseURL, provOpts...)
}

func ollamaURL(opts Options) string {
	if opts.OllamaURL != "" {
		return opts.OllamaURL
	}
	return opts.BaseURL
}
