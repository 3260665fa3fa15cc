// Package config loads the TOML configuration for the braid demo binary.
// Credentials live in the file; nothing is read from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/braid-ai/braid/provider/resolve"
)

type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Agent     AgentConfig     `toml:"agent"`
	RAG       RAGConfig       `toml:"rag"`
	History   HistoryConfig   `toml:"history"`
}

type ProviderConfig struct {
	Kind    string `toml:"kind"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

type EmbeddingConfig struct {
	Kind       string `toml:"kind"`
	Model      string `toml:"model"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"`
}

type AgentConfig struct {
	Name          string `toml:"name"`
	Instructions  string `toml:"instructions"`
	MaxIterations int    `toml:"max_iterations"`
}

type RAGConfig struct {
	// Path is the sqlite file backing the vector store. Empty disables RAG.
	Path string `toml:"path"`
	TopK int    `toml:"top_k"`
}

type HistoryConfig struct {
	// Backend selects the history store: memory, file, or sqlite.
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Window  int    `toml:"window"`
}

// Default returns a Config with all defaults applied. The defaults target
// a local ollama server so the demo runs without any credentials.
func Default() Config {
	return Config{
		Provider:  ProviderConfig{Kind: "ollama", Model: "llama3.2"},
		Embedding: EmbeddingConfig{Kind: "ollama", Model: "nomic-embed-text", Dimensions: 768},
		Agent:     AgentConfig{Name: "braid", MaxIterations: 10},
		RAG:       RAGConfig{TopK: 4},
		History:   HistoryConfig{Backend: "memory", Window: 20},
	}
}

// Load reads the TOML file at path over the defaults. Unset keys keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ModelString returns the kind/model form the resolve package expects.
func (p ProviderConfig) ModelString() string {
	return p.Kind + "/" + p.Model
}

// Options maps the block's credentials onto resolve options.
func (p ProviderConfig) Options() resolve.Options {
	opts := resolve.Options{BaseURL: p.BaseURL}
	switch p.Kind {
	case "openai":
		opts.OpenAIKey = p.APIKey
	case "deepseek":
		opts.DeepseekKey = p.APIKey
	case "mistral":
		opts.MistralKey = p.APIKey
	case "anthropic":
		opts.AnthropicKey = p.APIKey
	case "gemini":
		opts.GeminiKey = p.APIKey
	case "ollama":
		opts.OllamaURL = p.BaseURL
	}
	return opts
}

// ModelString returns the kind/model form the resolve package expects.
func (e EmbeddingConfig) ModelString() string {
	return e.Kind + "/" + e.Model
}

// Options maps the block's credentials onto resolve options.
func (e EmbeddingConfig) Options() resolve.Options {
	opts := resolve.Options{BaseURL: e.BaseURL}
	switch e.Kind {
	case "gemini":
		opts.GeminiKey = e.APIKey
	case "ollama":
		opts.OllamaURL = e.BaseURL
	}
	return opts
}
