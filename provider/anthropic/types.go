// Package anthropic implements braid.Provider for the Anthropic Messages
// API. Tool results ride in user-role turns as tool_result blocks, and
// structured output uses a single forced tool whose input schema is the
// target shape.
package anthropic

import "encoding/json"

// --- Request types ---

// Request is the Anthropic messages request body. MaxTokens is required
// by the API.
type Request struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Tools         []Tool    `json:"tools,omitempty"`
	ToolChoice    any       `json:"tool_choice,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

// Message is a single turn: role user or assistant, content as a block array.
type Message struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}

// Block is a typed content block. Type selects which fields are set:
// "text" (Text), "tool_use" (ID/Name/Input), "tool_result"
// (ToolUseID/Content), "image" (Source).
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
}

// ImageSource carries inline image data or a URL.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool declares a callable tool with a JSON-schema input.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// --- Response types ---

// Response is the Anthropic messages response.
type Response struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Role       string    `json:"role"`
	Content    []Block   `json:"content"`
	Model      string    `json:"model"`
	StopReason string    `json:"stop_reason"`
	Usage      Usage     `json:"usage"`
	Error      *APIError `json:"error,omitempty"`
}

// Usage carries Anthropic token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError is the error payload inside an error-type response.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Streaming types ---

// StreamEvent is one SSE event in a streaming response. Type is one of
// message_start, content_block_start, content_block_delta,
// content_block_stop, message_delta, message_stop, ping.
type StreamEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index,omitempty"`
	Message      *Response    `json:"message,omitempty"`
	ContentBlock *Block       `json:"content_block,omitempty"`
	Delta        *StreamDelta `json:"delta,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// StreamDelta is the delta payload of a content_block_delta or
// message_delta event.
type StreamDelta struct {
	Type        string `json:"type"` // "text_delta" or "input_json_delta"
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}
