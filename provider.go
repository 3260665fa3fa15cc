package braid

import (
	"context"
	"encoding/json"
)

// Provider abstracts the LLM backend. Implementations translate the
// backend-independent Message sum type to and from the backend's wire
// dialect; the rest of the framework never sees provider payloads.
type Provider interface {
	// Chat sends one conversation turn and returns the complete response
	// message. Tool-call requests come back as ToolCallRequest content.
	Chat(ctx context.Context, req ChatRequest) (Message, error)
	// ChatStream streams text deltas into ch, then returns the final
	// aggregated message with usage and any tool calls. Only text crosses
	// ch; a turn the model converts into a tool call yields the request in
	// the returned message. The provider never closes ch and stops sending
	// when ctx is done.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (Message, error)
	// Structured constrains the model to the given schema and returns the
	// raw JSON payload. The strategy is backend-specific: JSON mode where
	// the wire supports it, a single forced tool call elsewhere.
	Structured(ctx context.Context, req ChatRequest, schema ResponseSchema) (json.RawMessage, error)
	// Name returns the provider name (e.g. "gemini", "anthropic").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
