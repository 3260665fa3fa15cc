package braid

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrBody bounds the response-body excerpt carried by ProviderError.
const maxErrBody = 2048

// ProviderError reports a network or wire failure talking to an LLM backend.
// StatusCode and Body are set for HTTP-derived failures; Body is truncated
// to a bounded excerpt. RetryAfter carries the Retry-After header in seconds
// when the backend sent one (0 otherwise).
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Body       string
	RetryAfter int
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (http %d: %s)", e.Provider, e.Message, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// NewProviderHTTPError builds a ProviderError from an HTTP status and body,
// truncating the body excerpt.
func NewProviderHTTPError(provider string, status int, body string, retryAfter int) *ProviderError {
	if len(body) > maxErrBody {
		body = body[:maxErrBody]
	}
	return &ProviderError{
		Provider:   provider,
		Message:    "request failed",
		StatusCode: status,
		Body:       body,
		RetryAfter: retryAfter,
	}
}

// ParseRetryAfter parses a Retry-After header value into whole seconds.
// Accepts delay-seconds ("120") and HTTP-date forms. Returns 0 for empty
// or unparseable values.
func ParseRetryAfter(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0
		}
		return int((d + time.Second - 1) / time.Second)
	}
	return 0
}

// AgentError reports agent misconfiguration or invalid input.
type AgentError struct {
	Agent   string
	Message string
}

func (e *AgentError) Error() string {
	if e.Agent == "" {
		return "agent: " + e.Message
	}
	return fmt.Sprintf("agent %s: %s", e.Agent, e.Message)
}

// MissingParameterError reports a required tool parameter absent from the
// inputs at execution time.
type MissingParameterError struct {
	Tool  string
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("tool %s: missing required parameter %q", e.Tool, e.Param)
}

// CallableError wraps a failure (error or panic) inside a tool callable.
// During agent-driven dispatch it is captured as tool-result text rather
// than aborting the loop.
type CallableError struct {
	Tool string
	Err  error
}

func (e *CallableError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *CallableError) Unwrap() error { return e.Err }

// VectorStoreError reports a retrieval or ingest failure in a vector store.
type VectorStoreError struct {
	Store   string
	Message string
	Err     error
}

func (e *VectorStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vectorstore %s: %s: %v", e.Store, e.Message, e.Err)
	}
	return fmt.Sprintf("vectorstore %s: %s", e.Store, e.Message)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding provider failure.
type EmbeddingError struct {
	Provider string
	Message  string
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding %s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("embedding %s: %s", e.Provider, e.Message)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// PostProcessorError reports a document post-processor failure during
// retrieval.
type PostProcessorError struct {
	Processor string
	Err       error
}

func (e *PostProcessorError) Error() string {
	return fmt.Sprintf("postprocessor %s: %v", e.Processor, e.Err)
}

func (e *PostProcessorError) Unwrap() error { return e.Err }

// WorkflowError reports graph misconfiguration or a node runtime failure.
type WorkflowError struct {
	WorkflowID string
	NodeID     string
	Message    string
	Err        error
}

func (e *WorkflowError) Error() string {
	s := "workflow"
	if e.WorkflowID != "" {
		s += " " + e.WorkflowID
	}
	if e.NodeID != "" {
		s += " node " + e.NodeID
	}
	s += ": " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// ChatHistoryError reports a chat-history persistence failure.
type ChatHistoryError struct {
	Op  string
	Err error
}

func (e *ChatHistoryError) Error() string {
	return fmt.Sprintf("chat history %s: %v", e.Op, e.Err)
}

func (e *ChatHistoryError) Unwrap() error { return e.Err }
