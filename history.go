package braid

import (
	"context"
	"sync"
)

// ChatHistory is an ordered message log with a context window. After any
// mutation the log holds at most contextWindow messages; the oldest entries
// are evicted first. Implementations may persist outside memory, so every
// operation takes a context and can fail.
type ChatHistory interface {
	// Add appends msg and evicts oldest entries past the window.
	Add(ctx context.Context, msg Message) error
	// Messages returns a snapshot copy of the log, oldest first.
	Messages(ctx context.Context) ([]Message, error)
	// RemoveOldest drops the oldest message. No-op on an empty log.
	RemoveOldest(ctx context.Context) error
	// Clear drops every message.
	Clear(ctx context.Context) error
}

// DefaultContextWindow is the message cap applied when a history is
// constructed with a non-positive window.
const DefaultContextWindow = 50

// MemoryHistory is the in-memory ChatHistory reference implementation.
// Safe for concurrent use.
type MemoryHistory struct {
	mu       sync.Mutex
	window   int
	messages []Message
}

// NewMemoryHistory creates an in-memory history holding at most window
// messages.
func NewMemoryHistory(window int) *MemoryHistory {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &MemoryHistory{window: window}
}

func (h *MemoryHistory) Add(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	h.evict()
	return nil
}

func (h *MemoryHistory) Messages(_ context.Context) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out, nil
}

func (h *MemoryHistory) RemoveOldest(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) > 0 {
		h.messages = h.messages[1:]
	}
	return nil
}

func (h *MemoryHistory) Clear(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	return nil
}

// ContextWindow returns the configured message cap.
func (h *MemoryHistory) ContextWindow() int { return h.window }

// evict trims to the window. Caller holds the lock.
func (h *MemoryHistory) evict() {
	if n := len(h.messages) - h.window; n > 0 {
		h.messages = h.messages[n:]
	}
}

var _ ChatHistory = (*MemoryHistory)(nil)
