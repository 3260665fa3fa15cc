package braid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// defaultMaxIter caps the tool-call loop when WithMaxIterations is not set.
const defaultMaxIter = 10

// nopLogger discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Agent coordinates messages, tools, instructions, observers, and an LLM
// provider. One Agent serves one conversation at a time; run separate
// instances for concurrent conversations.
type Agent struct {
	name     string
	provider Provider
	history  ChatHistory
	tools    *ToolRegistry
	bus      *ObserverBus
	maxIter  int
	params   *GenerationParams
	tracer   Tracer
	logger   *slog.Logger

	instrMu      sync.RWMutex
	instructions string
	guidelines   []string
}

type agentConfig struct {
	instructions string
	history      ChatHistory
	tools        []*Tool
	toolkits     []*Toolkit
	observers    []subscription
	maxIter      int
	params       *GenerationParams
	tracer       Tracer
	logger       *slog.Logger
}

// AgentOption configures an Agent at construction.
type AgentOption func(*agentConfig)

// WithInstructions sets the agent's system instructions.
func WithInstructions(text string) AgentOption {
	return func(c *agentConfig) { c.instructions = text }
}

// WithChatHistory sets the conversation log. Defaults to an in-memory
// history with DefaultContextWindow.
func WithChatHistory(h ChatHistory) AgentOption {
	return func(c *agentConfig) { c.history = h }
}

// WithTools registers tools the model may invoke.
func WithTools(tools ...*Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithToolkit registers a toolkit's tools and surfaces its guidelines into
// the agent's instructions.
func WithToolkit(k *Toolkit) AgentOption {
	return func(c *agentConfig) { c.toolkits = append(c.toolkits, k) }
}

// WithObserver subscribes an observer to events matching pattern ("*" for
// all).
func WithObserver(pattern string, obs Observer) AgentOption {
	return func(c *agentConfig) {
		c.observers = append(c.observers, subscription{pattern: pattern, observer: obs})
	}
}

// WithMaxIterations bounds the tool-call loop (default 10).
func WithMaxIterations(n int) AgentOption {
	return func(c *agentConfig) { c.maxIter = n }
}

// WithGenerationParams sets sampling parameters passed to the provider.
func WithGenerationParams(p *GenerationParams) AgentOption {
	return func(c *agentConfig) { c.params = p }
}

// WithTracer enables span creation for agent operations.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

// NewAgent creates an agent on the given provider.
func NewAgent(name string, provider Provider, opts ...AgentOption) *Agent {
	var cfg agentConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	if cfg.history == nil {
		cfg.history = NewMemoryHistory(DefaultContextWindow)
	}
	if cfg.maxIter <= 0 {
		cfg.maxIter = defaultMaxIter
	}

	a := &Agent{
		name:         name,
		provider:     provider,
		history:      cfg.history,
		tools:        NewToolRegistry(),
		bus:          NewObserverBus(cfg.logger),
		maxIter:      cfg.maxIter,
		params:       cfg.params,
		tracer:       cfg.tracer,
		logger:       cfg.logger,
		instructions: cfg.instructions,
	}
	for _, t := range cfg.tools {
		a.tools.Add(t)
	}
	for _, k := range cfg.toolkits {
		a.addToolkit(k)
	}
	for _, s := range cfg.observers {
		a.bus.Subscribe(s.pattern, s.observer)
	}
	return a
}

func (a *Agent) Name() string { return a.name }

// History returns the agent's conversation log.
func (a *Agent) History() ChatHistory { return a.history }

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *ToolRegistry { return a.tools }

// AddTool registers a tool after construction.
func (a *Agent) AddTool(t *Tool) { a.tools.Add(t) }

// AddToolkit registers a toolkit's tools and guidelines after construction.
func (a *Agent) AddToolkit(k *Toolkit) { a.addToolkit(k) }

func (a *Agent) addToolkit(k *Toolkit) {
	for _, t := range k.Tools() {
		a.tools.Add(t)
	}
	if g := k.Guidelines(); g != "" {
		a.instrMu.Lock()
		a.guidelines = append(a.guidelines, g)
		a.instrMu.Unlock()
	}
}

// AddObserver subscribes an observer after construction.
func (a *Agent) AddObserver(pattern string, obs Observer) { a.bus.Subscribe(pattern, obs) }

// Instructions returns the current system instructions, without toolkit
// guidelines.
func (a *Agent) Instructions() string {
	a.instrMu.RLock()
	defer a.instrMu.RUnlock()
	return a.instructions
}

// SetInstructions replaces the system instructions.
func (a *Agent) SetInstructions(text string) {
	a.instrMu.Lock()
	defer a.instrMu.Unlock()
	a.instructions = text
}

// assembleInstructions returns the effective instructions for one turn:
// the configured text followed by toolkit guidelines.
func (a *Agent) assembleInstructions() string {
	a.instrMu.RLock()
	defer a.instrMu.RUnlock()
	parts := make([]string, 0, 1+len(a.guidelines))
	if a.instructions != "" {
		parts = append(parts, a.instructions)
	}
	parts = append(parts, a.guidelines...)
	return strings.Join(parts, "\n\n")
}

func (a *Agent) publish(ctx context.Context, name string, data map[string]any) {
	a.bus.Publish(ctx, Event{Name: name, Source: a.name, Data: data})
}

// Chat runs one synchronous conversation turn: the message is appended to
// history, the provider is called, tool-call responses are dispatched and
// fed back, and the final assistant message is returned. The loop is
// bounded by WithMaxIterations; on breach the last assistant message is
// returned and an error event is emitted.
func (a *Agent) Chat(ctx context.Context, msg Message) (Message, error) {
	return a.run(ctx, msg, nil)
}

// Stream runs one conversation turn, forwarding text deltas to ch as the
// provider produces them. Only text crosses ch; tool activity is visible
// on the observer bus. No sends happen after Stream returns; the caller
// owns and closes ch.
func (a *Agent) Stream(ctx context.Context, msg Message, ch chan<- string) (Message, error) {
	return a.run(ctx, msg, ch)
}

func (a *Agent) run(ctx context.Context, msg Message, ch chan<- string) (Message, error) {
	if a.provider == nil {
		return Message{}, &AgentError{Agent: a.name, Message: "no provider configured"}
	}
	if a.tracer != nil {
		var span Span
		ctx, span = a.tracer.Start(ctx, "agent.chat",
			StringAttr("agent.name", a.name),
			BoolAttr("agent.streaming", ch != nil))
		defer span.End()
	}

	if err := a.history.Add(ctx, msg); err != nil {
		return Message{}, err
	}
	instructions := a.assembleInstructions()
	chatStart := time.Now()
	a.publish(ctx, EventChatStart, map[string]any{"message": msg.Text()})
	a.logger.Info("chat started", "agent", a.name)

	var last Message
	var total Usage
	for iter := 0; iter < a.maxIter; iter++ {
		msgs, err := a.history.Messages(ctx)
		if err != nil {
			return Message{}, err
		}
		req := ChatRequest{
			Messages:     msgs,
			Instructions: instructions,
			Tools:        a.tools.Definitions(),
			Params:       a.params,
		}

		a.publish(ctx, EventInferenceStart, map[string]any{"iteration": iter})
		start := time.Now()
		var resp Message
		if ch != nil {
			resp, err = a.provider.ChatStream(ctx, req, ch)
		} else {
			resp, err = a.provider.Chat(ctx, req)
		}
		if err != nil {
			a.publish(ctx, EventError, map[string]any{"error": err.Error()})
			a.logger.Error("provider call failed", "agent", a.name, "provider", a.provider.Name(), "error", err)
			return Message{}, err
		}
		a.publish(ctx, EventInferenceStop, map[string]any{
			"iteration":   iter,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if resp.Usage != nil {
			total.Add(*resp.Usage)
		}
		last = resp

		if err := a.history.Add(ctx, resp); err != nil {
			return Message{}, err
		}

		callReq, ok := resp.ToolCalls()
		if !ok {
			a.publish(ctx, EventChatStop, map[string]any{
				"prompt_tokens":     total.PromptTokens,
				"completion_tokens": total.CompletionTokens,
				"duration_ms":       time.Since(chatStart).Milliseconds(),
			})
			a.logger.Info("chat completed", "agent", a.name,
				"iterations", iter+1,
				"tokens.prompt", total.PromptTokens,
				"tokens.completion", total.CompletionTokens)
			final := resp
			if total != (Usage{}) {
				u := total
				final.Usage = &u
			}
			return final, nil
		}

		results := a.dispatchCalls(ctx, callReq.Calls)
		for i, call := range callReq.Calls {
			tr := ToolResultMessage(call.CallID, call.Function.Name, results[i])
			if err := a.history.Add(ctx, tr); err != nil {
				return Message{}, err
			}
		}
	}

	a.publish(ctx, EventError, map[string]any{
		"error": fmt.Sprintf("tool loop exceeded %d iterations", a.maxIter),
	})
	a.publish(ctx, EventChatStop, map[string]any{
		"prompt_tokens":     total.PromptTokens,
		"completion_tokens": total.CompletionTokens,
		"duration_ms":       time.Since(chatStart).Milliseconds(),
	})
	a.logger.Warn("tool loop exceeded max iterations", "agent", a.name, "max_iter", a.maxIter)
	return last, nil
}

// maxParallelDispatch caps concurrent tool-call goroutines per response.
const maxParallelDispatch = 10

// dispatchCalls executes the calls of one tool-call request and returns
// their result strings indexed like calls. Execution runs on a bounded
// worker pool; results land by index so tool-result messages follow the
// provider's array order. Observer events fire in array order on the
// calling goroutine.
func (a *Agent) dispatchCalls(ctx context.Context, calls []ToolCall) []string {
	for _, call := range calls {
		a.publish(ctx, EventToolCalling, map[string]any{
			"tool":    call.Function.Name,
			"call_id": call.CallID,
			"args":    call.Function.Arguments,
		})
	}

	results := make([]string, len(calls))
	durations := make([]time.Duration, len(calls))
	if len(calls) == 1 {
		start := time.Now()
		results[0] = a.execCall(ctx, calls[0])
		durations[0] = time.Since(start)
	} else {
		type workItem struct {
			idx  int
			call ToolCall
		}
		workCh := make(chan workItem, len(calls))
		for i, call := range calls {
			workCh <- workItem{idx: i, call: call}
		}
		close(workCh)

		numWorkers := min(len(calls), maxParallelDispatch)
		var wg sync.WaitGroup
		wg.Add(numWorkers)
		for i := 0; i < numWorkers; i++ {
			go func() {
				defer wg.Done()
				for w := range workCh {
					if ctx.Err() != nil {
						results[w.idx] = "error: " + ctx.Err().Error()
						continue
					}
					start := time.Now()
					results[w.idx] = a.execCall(ctx, w.call)
					durations[w.idx] = time.Since(start)
				}
			}()
		}
		wg.Wait()
	}

	for i, call := range calls {
		a.publish(ctx, EventToolCalled, map[string]any{
			"tool":        call.Function.Name,
			"call_id":     call.CallID,
			"result":      truncateStr(results[i], 500),
			"duration_ms": durations[i].Milliseconds(),
		})
	}
	return results
}

// execCall runs one tool call. Unknown tools and execution failures come
// back as error text so the model can react; the loop never aborts on a
// tool problem.
func (a *Agent) execCall(ctx context.Context, call ToolCall) string {
	res, err := a.tools.Execute(ctx, call.Function.Name, call.CallID, call.Function.Arguments)
	if err != nil {
		return "error: " + err.Error()
	}
	return res
}

// Structured asks the provider for a response constrained to schema and
// returns the raw JSON. Parse failures are retried with a tightened
// instruction up to maxRetries times; provider errors propagate
// immediately.
func (a *Agent) Structured(ctx context.Context, msg Message, schema ResponseSchema, maxRetries int) (json.RawMessage, error) {
	if a.provider == nil {
		return nil, &AgentError{Agent: a.name, Message: "no provider configured"}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if err := a.history.Add(ctx, msg); err != nil {
		return nil, err
	}
	instructions := a.assembleInstructions()
	a.publish(ctx, EventStructuredExtracting, map[string]any{"schema": schema.Name})

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		msgs, err := a.history.Messages(ctx)
		if err != nil {
			return nil, err
		}
		req := ChatRequest{Messages: msgs, Instructions: instructions, Params: a.params}
		raw, err := a.provider.Structured(ctx, req, schema)
		if err != nil {
			a.publish(ctx, EventError, map[string]any{"error": err.Error()})
			return nil, err
		}
		cleaned := cleanJSON(raw)
		if json.Valid(cleaned) {
			if err := a.history.Add(ctx, AssistantMessage(string(cleaned))); err != nil {
				return nil, err
			}
			a.publish(ctx, EventStructuredExtracted, map[string]any{"schema": schema.Name, "attempts": attempt + 1})
			return cleaned, nil
		}
		lastErr = fmt.Errorf("attempt %d: response is not valid JSON", attempt+1)
		a.logger.Warn("structured output parse failed", "agent", a.name, "attempt", attempt+1)
		instructions += "\n\nReturn ONLY a valid JSON object matching the required schema. No prose, no code fences."
	}
	a.publish(ctx, EventError, map[string]any{"error": lastErr.Error()})
	return nil, &AgentError{Agent: a.name, Message: "structured extraction failed: " + lastErr.Error()}
}

// Extract runs Structured and unmarshals the payload into T.
func Extract[T any](ctx context.Context, a *Agent, msg Message, schema ResponseSchema, maxRetries int) (T, error) {
	var out T
	raw, err := a.Structured(ctx, msg, schema, maxRetries)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &AgentError{Agent: a.name, Message: "structured payload does not match target: " + err.Error()}
	}
	return out, nil
}

// cleanJSON strips surrounding whitespace and the markdown code fences
// weaker models wrap around JSON payloads.
func cleanJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}

// removeDelimitedContent strips the first openTag...closeTag block from
// text, tags included. Text is returned unchanged when no balanced block
// exists.
func removeDelimitedContent(text, openTag, closeTag string) string {
	start := strings.Index(text, openTag)
	if start < 0 {
		return text
	}
	rest := text[start+len(openTag):]
	end := strings.Index(rest, closeTag)
	if end < 0 {
		return text
	}
	return text[:start] + rest[end+len(closeTag):]
}

// truncateStr shortens s to at most n runes.
func truncateStr(s string, n int) string {
	// Byte length <= n guarantees rune count <= n, so short ASCII strings
	// skip the []rune allocation.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// AgentTool wraps an agent as a callable tool so another agent can
// delegate to it. The wrapped agent receives the "input" argument as a
// user message and its final text becomes the tool result.
func AgentTool(a *Agent, description string) *Tool {
	return NewTool("agent_"+a.Name(), description,
		[]ToolProperty{{
			Name:        "input",
			Type:        TypeString,
			Description: "Task or question for the " + a.Name() + " agent",
			Required:    true,
		}},
		func(ctx context.Context, args map[string]any) (any, error) {
			input, _ := args["input"].(string)
			resp, err := a.Chat(ctx, UserMessage(input))
			if err != nil {
				return nil, err
			}
			return resp.Text(), nil
		})
}
