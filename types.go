package braid

import (
	"encoding/json"
	"fmt"
)

// --- Roles ---

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleModel is Gemini's name for the assistant turn. Backends treat it
	// exactly like RoleAssistant when encoding; it is preserved on decode so
	// histories keep provider fidelity.
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// IsAssistant reports whether the role is an assistant-side turn
// (RoleAssistant or RoleModel).
func (r Role) IsAssistant() bool { return r == RoleAssistant || r == RoleModel }

// --- Message content variants ---

// Content is the payload of a Message: plain text, a tool-call request from
// the model, or a tool-call result returned to it. A nil Content means the
// message carries no payload (some providers emit empty assistant turns).
type Content interface {
	contentType() string
}

// TextContent is ordinary text produced by a user or model.
type TextContent struct {
	Text string `json:"text"`
}

// ToolCallRequest is an assistant turn asking for one or more tool invocations.
// Every CallID in Calls must eventually be answered by a ToolCallResult.
type ToolCallRequest struct {
	MessageID string     `json:"message_id,omitempty"`
	Calls     []ToolCall `json:"calls"`
}

// ToolCall is a single requested invocation inside a ToolCallRequest.
type ToolCall struct {
	CallID   string       `json:"call_id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as the JSON string
// the provider produced, preserving wire fidelity.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallResult is a tool turn answering a single ToolCall.
type ToolCallResult struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
}

func (TextContent) contentType() string     { return contentText }
func (ToolCallRequest) contentType() string { return contentToolCalls }
func (ToolCallResult) contentType() string  { return contentToolResult }

const (
	contentText       = "text"
	contentToolCalls  = "tool_calls"
	contentToolResult = "tool_result"
)

// NewToolCall builds a function ToolCall with a JSON-encoded arguments string.
func NewToolCall(callID, name, arguments string) ToolCall {
	return ToolCall{CallID: callID, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

// --- Attachments ---

// AttachmentType classifies an attachment payload.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
)

// AttachmentContentType says how Attachment.Content is carried.
type AttachmentContentType string

const (
	AttachmentBase64 AttachmentContentType = "base64"
	AttachmentURL    AttachmentContentType = "url"
)

// Attachment is a binary payload riding on a Message, either inline base64
// or by URL. MediaType is the MIME type (e.g. "image/png").
type Attachment struct {
	Type        AttachmentType        `json:"type"`
	ContentType AttachmentContentType `json:"content_type"`
	MediaType   string                `json:"media_type,omitempty"`
	Content     string                `json:"content"`
}

// --- Usage ---

// Usage carries token accounting reported by a provider. Providers that
// report only a total set TotalTokens directly; otherwise TotalTokens is
// the sum of the two parts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another Usage into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// --- Message ---

// Message is one turn in a conversation. Instances are built progressively
// by the agent loop; once appended to history or handed to observers they
// must be treated as frozen.
type Message struct {
	Role        Role           `json:"role"`
	Content     Content        `json:"content"`
	Usage       *Usage         `json:"usage,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"meta,omitempty"`
}

// Text returns the message text, or "" when the content is not TextContent.
func (m Message) Text() string {
	if t, ok := m.Content.(TextContent); ok {
		return t.Text
	}
	return ""
}

// ToolCalls returns the tool-call request carried by the message, if any.
func (m Message) ToolCalls() (ToolCallRequest, bool) {
	req, ok := m.Content.(ToolCallRequest)
	return req, ok
}

// ToolResult returns the tool-call result carried by the message, if any.
func (m Message) ToolResult() (ToolCallResult, bool) {
	res, ok := m.Content.(ToolCallResult)
	return res, ok
}

// IsToolCall reports whether the message is a tool-call request.
func (m Message) IsToolCall() bool {
	_, ok := m.Content.(ToolCallRequest)
	return ok
}

// --- Message JSON encoding ---

// contentEnvelope is the tagged wire form of a Content variant.
type contentEnvelope struct {
	Type string `json:"type"`
	// text
	Text string `json:"text,omitempty"`
	// tool_calls
	MessageID string     `json:"message_id,omitempty"`
	Calls     []ToolCall `json:"calls,omitempty"`
	// tool_result
	CallID   string `json:"call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Content  string `json:"content,omitempty"`
}

type messageJSON struct {
	Role        Role             `json:"role"`
	Content     *contentEnvelope `json:"content"`
	Usage       *Usage           `json:"usage,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Metadata    map[string]any   `json:"meta,omitempty"`
}

// MarshalJSON encodes the message with a tagged content envelope so the
// variant survives a round trip. Nil content encodes as JSON null.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{Role: m.Role, Usage: m.Usage, Attachments: m.Attachments, Metadata: m.Metadata}
	switch c := m.Content.(type) {
	case nil:
	case TextContent:
		out.Content = &contentEnvelope{Type: contentText, Text: c.Text}
	case ToolCallRequest:
		out.Content = &contentEnvelope{Type: contentToolCalls, MessageID: c.MessageID, Calls: c.Calls}
	case ToolCallResult:
		out.Content = &contentEnvelope{Type: contentToolResult, CallID: c.CallID, ToolName: c.ToolName, Content: c.Content}
	default:
		return nil, fmt.Errorf("braid: unknown content type %T", m.Content)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged envelope produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Role = in.Role
	m.Usage = in.Usage
	m.Attachments = in.Attachments
	m.Metadata = in.Metadata
	m.Content = nil
	if in.Content == nil {
		return nil
	}
	switch in.Content.Type {
	case contentText:
		m.Content = TextContent{Text: in.Content.Text}
	case contentToolCalls:
		m.Content = ToolCallRequest{MessageID: in.Content.MessageID, Calls: in.Content.Calls}
	case contentToolResult:
		m.Content = ToolCallResult{CallID: in.Content.CallID, ToolName: in.Content.ToolName, Content: in.Content.Content}
	default:
		return fmt.Errorf("braid: unknown content type %q", in.Content.Type)
	}
	return nil
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent{Text: text}}
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent{Text: text}}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent{Text: text}}
}

// ToolCallMessage builds the assistant turn carrying a tool-call request.
func ToolCallMessage(calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: ToolCallRequest{MessageID: NewID(), Calls: calls}}
}

// ToolResultMessage builds the tool turn answering callID.
func ToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: ToolCallResult{CallID: callID, ToolName: toolName, Content: content}}
}

// --- Provider request types ---

// GenerationParams tunes sampling on a per-request basis. Nil fields are
// omitted from the provider payload so backend defaults apply.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ToolDefinition is the provider-facing declaration of a tool: name,
// description, and a JSON-schema parameters object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ResponseSchema names a JSON schema for structured output.
type ResponseSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// ChatRequest is the provider-independent request for one model turn.
type ChatRequest struct {
	Messages     []Message
	Instructions string
	Tools        []ToolDefinition
	Params       *GenerationParams
}
