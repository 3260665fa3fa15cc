package braid

import (
	"context"
	"encoding/json"
	"sync"
)

// mockProvider is a test Provider that returns canned responses in order.
// Past the end of the script it returns an "exhausted" text message so a
// runaway loop fails an assertion instead of panicking.
type mockProvider struct {
	name      string
	responses []Message // popped in order
	idx       int
	err       error // when set, every call fails with it

	structured    []json.RawMessage // popped in order by Structured
	structuredIdx int

	reqs []ChatRequest // every request seen, in call order
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (Message, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return Message{}, m.err
	}
	return m.next(), nil
}

// ChatStream forwards the response text as a single chunk. The channel is
// owned by the caller and is never closed here.
func (m *mockProvider) ChatStream(_ context.Context, req ChatRequest, ch chan<- string) (Message, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return Message{}, m.err
	}
	resp := m.next()
	if text := resp.Text(); text != "" {
		ch <- text
	}
	return resp, nil
}

func (m *mockProvider) Structured(_ context.Context, req ChatRequest, _ ResponseSchema) (json.RawMessage, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.structuredIdx >= len(m.structured) {
		return json.RawMessage(`{}`), nil
	}
	raw := m.structured[m.structuredIdx]
	m.structuredIdx++
	return raw, nil
}

func (m *mockProvider) next() Message {
	if m.idx >= len(m.responses) {
		return AssistantMessage("exhausted")
	}
	resp := m.responses[m.idx]
	m.idx++
	return resp
}

// mockEmbedder returns fixed vectors keyed by input text. Unknown texts get
// a unit vector on the first axis so dimensions always line up.
type mockEmbedder struct {
	dims    int
	vectors map[string][]float32
	err     error
	fn      func(texts []string) ([][]float32, error) // overrides everything when set

	calls [][]string
}

func (m *mockEmbedder) Name() string { return "mock-embed" }

func (m *mockEmbedder) Dimensions() int {
	if m.dims == 0 {
		return 3
	}
	return m.dims
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls = append(m.calls, texts)
	if m.fn != nil {
		return m.fn(texts)
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, m.Dimensions())
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

// recorder is an Observer that captures every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func (r *recorder) find(name string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// containsInOrder reports whether want appears as a subsequence of got.
func containsInOrder(got, want []string) bool {
	i := 0
	for _, name := range got {
		if i < len(want) && name == want[i] {
			i++
		}
	}
	return i == len(want)
}

// echoTool returns a tool that echoes its "text" argument.
func echoTool() *Tool {
	return NewTool("echo", "Echo the input text",
		[]ToolProperty{{Name: "text", Type: TypeString, Description: "Text to echo", Required: true}},
		func(_ context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return "echo: " + text, nil
		})
}
