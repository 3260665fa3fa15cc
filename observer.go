package braid

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"
)

// Event names published on the observer bus. Exhaustive for the framework;
// components never invent names outside this set.
const (
	EventChatStart            = "chat-start"
	EventChatStop             = "chat-stop"
	EventInferenceStart       = "inference-start"
	EventInferenceStop        = "inference-stop"
	EventToolCalling          = "tool-calling"
	EventToolCalled           = "tool-called"
	EventStructuredExtracting = "structured-extracting"
	EventStructuredExtracted  = "structured-extracted"
	EventError                = "error"

	EventRAGAnswerStart          = "rag-answer-start"
	EventRAGAnswerStop           = "rag-answer-stop"
	EventRAGRetrievalStart       = "rag-retrieval-start"
	EventRAGRetrievalStop        = "rag-retrieval-stop"
	EventRAGVectorStoreSearching = "rag-vectorstore-searching"
	EventRAGVectorStoreResult    = "rag-vectorstore-result"
	EventRAGPostProcessingStart  = "rag-postprocessing-start"
	EventRAGPostProcessingEnd    = "rag-postprocessing-end"
	EventRAGAddDocumentsStart    = "rag-adddocuments-start"
	EventRAGAddDocumentsStop     = "rag-adddocuments-stop"

	EventWorkflowStart       = "workflow-start"
	EventWorkflowNodeStart   = "workflow-node-start"
	EventWorkflowNodeStop    = "workflow-node-stop"
	EventWorkflowInterrupted = "workflow-interrupted"
	EventWorkflowResumed     = "workflow-resumed"
	EventWorkflowStop        = "workflow-stop"
)

// Event is a named lifecycle notification with a free-form payload.
type Event struct {
	// Name is one of the Event* constants.
	Name string
	// Source is the emitting agent, RAG, or workflow name.
	Source string
	// Data carries event-specific fields.
	Data map[string]any
	// Time is when the event was published.
	Time time.Time
}

// Observer receives events from an ObserverBus. Implementations must not
// block for long; fan-out is synchronous on the publishing goroutine.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// ObserverBus delivers events to subscribers whose pattern matches the
// event name. Delivery is synchronous and in subscription order; a panicking
// observer is logged and skipped so the remaining observers still run.
type ObserverBus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

type subscription struct {
	pattern  string
	observer Observer
}

// NewObserverBus creates a bus. A nil logger falls back to a no-op logger.
func NewObserverBus(logger *slog.Logger) *ObserverBus {
	if logger == nil {
		logger = nopLogger
	}
	return &ObserverBus{logger: logger}
}

// Subscribe registers an observer for event names matching pattern.
// Patterns use path.Match globs: "*" matches everything, "rag-*" matches
// the retrieval events, an exact name matches itself.
func (b *ObserverBus) Subscribe(pattern string, obs Observer) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, observer: obs})
}

// Len returns the number of subscriptions.
func (b *ObserverBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers the event to every matching subscriber, stamping Time
// if unset.
func (b *ObserverBus) Publish(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !matchEvent(s.pattern, ev.Name) {
			continue
		}
		b.notify(ctx, s.observer, ev)
	}
}

// notify delivers to one observer with panic isolation.
func (b *ObserverBus) notify(ctx context.Context, obs Observer, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("observer panic", "event", ev.Name, "panic", p)
		}
	}()
	obs.OnEvent(ctx, ev)
}

// matchEvent matches an event name against a glob pattern. A malformed
// pattern matches nothing.
func matchEvent(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
