package braid

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// withUsage attaches token usage to a scripted response.
func withUsage(m Message, u Usage) Message {
	m.Usage = &u
	return m
}

func TestAgentNoProvider(t *testing.T) {
	agent := NewAgent("helper", nil)
	_, err := agent.Chat(context.Background(), UserMessage("hi"))
	var ae *AgentError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want AgentError", err)
	}
	if got, want := ae.Error(), "agent helper: no provider configured"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	_, err = agent.Structured(context.Background(), UserMessage("hi"), ResponseSchema{Name: "x"}, 0)
	if !errors.As(err, &ae) {
		t.Errorf("Structured error = %v, want AgentError", err)
	}
}

func TestAgentChat(t *testing.T) {
	provider := &mockProvider{responses: []Message{AssistantMessage("Hello!")}}
	rec := &recorder{}
	agent := NewAgent("greeter", provider, WithObserver("*", rec))

	resp, err := agent.Chat(context.Background(), UserMessage("Hi there"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("Text() = %q, want %q", resp.Text(), "Hello!")
	}

	msgs, _ := agent.History().Messages(context.Background())
	if len(msgs) != 2 {
		t.Fatalf("history has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("history roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}

	want := []string{EventChatStart, EventInferenceStart, EventInferenceStop, EventChatStop}
	if !containsInOrder(rec.names(), want) {
		t.Errorf("events = %v, want %v in order", rec.names(), want)
	}
	if rec.count(EventChatStart) != 1 || rec.count(EventChatStop) != 1 {
		t.Errorf("chat-start/stop counts = %d/%d, want 1/1",
			rec.count(EventChatStart), rec.count(EventChatStop))
	}
}

func TestAgentChatRequest(t *testing.T) {
	provider := &mockProvider{responses: []Message{AssistantMessage("ok")}}
	h := NewMemoryHistory(10)
	ctx := context.Background()
	h.Add(ctx, UserMessage("earlier question"))
	h.Add(ctx, AssistantMessage("earlier answer"))

	agent := NewAgent("ctx", provider,
		WithChatHistory(h),
		WithInstructions("Be brief."),
		WithTools(echoTool()),
	)
	if _, err := agent.Chat(ctx, UserMessage("new question")); err != nil {
		t.Fatal(err)
	}

	if len(provider.reqs) != 1 {
		t.Fatalf("provider saw %d requests, want 1", len(provider.reqs))
	}
	req := provider.reqs[0]
	if len(req.Messages) != 3 {
		t.Fatalf("request carried %d messages, want 3", len(req.Messages))
	}
	if req.Messages[0].Text() != "earlier question" || req.Messages[2].Text() != "new question" {
		t.Errorf("request messages = %q ... %q", req.Messages[0].Text(), req.Messages[2].Text())
	}
	if req.Instructions != "Be brief." {
		t.Errorf("Instructions = %q", req.Instructions)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "echo" {
		t.Errorf("Tools = %+v, want echo definition", req.Tools)
	}
}

func TestAgentToolLoop(t *testing.T) {
	provider := &mockProvider{responses: []Message{
		ToolCallMessage(NewToolCall("call-1", "echo", `{"text":"hi"}`)),
		AssistantMessage("The echo said: echo: hi"),
	}}
	rec := &recorder{}
	agent := NewAgent("looper", provider,
		WithTools(echoTool()),
		WithObserver("*", rec),
	)

	resp, err := agent.Chat(context.Background(), UserMessage("Echo hi for me"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "The echo said: echo: hi" {
		t.Errorf("Text() = %q", resp.Text())
	}

	msgs, _ := agent.History().Messages(context.Background())
	if len(msgs) != 4 {
		t.Fatalf("history has %d messages, want 4", len(msgs))
	}
	if !msgs[1].IsToolCall() {
		t.Error("history[1] is not the tool-call request")
	}
	res, ok := msgs[2].ToolResult()
	if !ok {
		t.Fatal("history[2] is not a tool result")
	}
	if res.CallID != "call-1" || res.ToolName != "echo" || res.Content != "echo: hi" {
		t.Errorf("tool result = %+v", res)
	}

	calling, ok := rec.find(EventToolCalling)
	if !ok {
		t.Fatal("no tool-calling event")
	}
	if calling.Data["tool"] != "echo" || calling.Data["args"] != `{"text":"hi"}` {
		t.Errorf("tool-calling data = %v", calling.Data)
	}
	called, ok := rec.find(EventToolCalled)
	if !ok {
		t.Fatal("no tool-called event")
	}
	if called.Data["result"] != "echo: hi" {
		t.Errorf("tool-called data = %v", called.Data)
	}
}

func TestAgentToolLoopUnknownTool(t *testing.T) {
	provider := &mockProvider{responses: []Message{
		ToolCallMessage(NewToolCall("c1", "missing", "{}")),
		AssistantMessage("recovered"),
	}}
	agent := NewAgent("a", provider)

	resp, err := agent.Chat(context.Background(), UserMessage("go"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "recovered" {
		t.Errorf("Text() = %q, want recovered", resp.Text())
	}
	msgs, _ := agent.History().Messages(context.Background())
	res, ok := msgs[2].ToolResult()
	if !ok {
		t.Fatal("history[2] is not a tool result")
	}
	if res.Content != "unknown tool: missing" {
		t.Errorf("result content = %q", res.Content)
	}
}

func TestAgentParallelDispatchOrder(t *testing.T) {
	// slow finishes after fast, but results must land in call order.
	gate := make(chan struct{})
	slow := NewTool("slow", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return "slow-done", nil
	})
	fast := NewTool("fast", "", nil, func(_ context.Context, _ map[string]any) (any, error) {
		close(gate)
		return "fast-done", nil
	})

	provider := &mockProvider{responses: []Message{
		ToolCallMessage(
			NewToolCall("c-slow", "slow", "{}"),
			NewToolCall("c-fast", "fast", "{}"),
		),
		AssistantMessage("both done"),
	}}
	rec := &recorder{}
	agent := NewAgent("par", provider,
		WithTools(slow, fast),
		WithObserver(EventToolCalled, rec),
	)

	if _, err := agent.Chat(context.Background(), UserMessage("run both")); err != nil {
		t.Fatal(err)
	}

	msgs, _ := agent.History().Messages(context.Background())
	first, _ := msgs[2].ToolResult()
	second, _ := msgs[3].ToolResult()
	if first.CallID != "c-slow" || first.Content != "slow-done" {
		t.Errorf("first result = %+v, want slow's", first)
	}
	if second.CallID != "c-fast" || second.Content != "fast-done" {
		t.Errorf("second result = %+v, want fast's", second)
	}

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("tool-called events = %d, want 2", len(events))
	}
	if events[0].Data["tool"] != "slow" || events[1].Data["tool"] != "fast" {
		t.Errorf("tool-called order = %v, %v, want call order", events[0].Data["tool"], events[1].Data["tool"])
	}
}

func TestAgentMaxIterations(t *testing.T) {
	call := func(id string) Message {
		return ToolCallMessage(NewToolCall(id, "echo", `{"text":"again"}`))
	}
	provider := &mockProvider{responses: []Message{call("c1"), call("c2"), call("c3")}}
	rec := &recorder{}
	agent := NewAgent("runaway", provider,
		WithTools(echoTool()),
		WithMaxIterations(3),
		WithObserver("*", rec),
	)

	resp, err := agent.Chat(context.Background(), UserMessage("loop"))
	if err != nil {
		t.Fatalf("max-iteration breach must not error, got %v", err)
	}
	if !resp.IsToolCall() {
		t.Error("expected the last tool-call message back on breach")
	}

	ev, ok := rec.find(EventError)
	if !ok {
		t.Fatal("no error event on breach")
	}
	if ev.Data["error"] != "tool loop exceeded 3 iterations" {
		t.Errorf("error event data = %v", ev.Data)
	}
	if rec.count(EventChatStop) != 1 {
		t.Error("chat-stop not published on breach")
	}
	if rec.count(EventInferenceStart) != 3 {
		t.Errorf("inference-start count = %d, want 3", rec.count(EventInferenceStart))
	}
}

func TestAgentProviderError(t *testing.T) {
	cause := &ProviderError{Provider: "mock", Message: "unreachable"}
	provider := &mockProvider{err: cause}
	rec := &recorder{}
	agent := NewAgent("a", provider, WithObserver(EventError, rec))

	_, err := agent.Chat(context.Background(), UserMessage("hi"))
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want the provider error", err)
	}
	if _, ok := rec.find(EventError); !ok {
		t.Error("no error event published")
	}
}

func TestAgentUsageAccumulation(t *testing.T) {
	provider := &mockProvider{responses: []Message{
		withUsage(ToolCallMessage(NewToolCall("c1", "echo", `{"text":"x"}`)), Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}),
		withUsage(AssistantMessage("done"), Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}),
	}}
	agent := NewAgent("counter", provider, WithTools(echoTool()))

	resp, err := agent.Chat(context.Background(), UserMessage("go"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage == nil {
		t.Fatal("final message carries no usage")
	}
	want := Usage{PromptTokens: 17, CompletionTokens: 8, TotalTokens: 25}
	if *resp.Usage != want {
		t.Errorf("Usage = %+v, want %+v", *resp.Usage, want)
	}
}

func TestAgentUsageAbsent(t *testing.T) {
	provider := &mockProvider{responses: []Message{AssistantMessage("done")}}
	agent := NewAgent("a", provider)

	resp, err := agent.Chat(context.Background(), UserMessage("go"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage != nil {
		t.Errorf("Usage = %+v, want nil when the provider reported none", resp.Usage)
	}
}

func TestAgentStream(t *testing.T) {
	provider := &mockProvider{responses: []Message{AssistantMessage("streamed reply")}}
	agent := NewAgent("streamer", provider)

	ch := make(chan string, 8)
	resp, err := agent.Stream(context.Background(), UserMessage("go"), ch)
	if err != nil {
		t.Fatal(err)
	}
	close(ch)

	var b strings.Builder
	for chunk := range ch {
		b.WriteString(chunk)
	}
	if b.String() != "streamed reply" {
		t.Errorf("streamed = %q, want %q", b.String(), "streamed reply")
	}
	if resp.Text() != "streamed reply" {
		t.Errorf("final Text() = %q", resp.Text())
	}
}

func TestAgentInstructionsAssembly(t *testing.T) {
	provider := &mockProvider{responses: []Message{AssistantMessage("ok")}}
	kit := NewToolkit("web",
		func() []*Tool { return []*Tool{echoTool()} },
		WithGuidelines("Use echo sparingly."),
	)
	agent := NewAgent("a", provider,
		WithInstructions("You are terse."),
		WithToolkit(kit),
	)

	if _, err := agent.Chat(context.Background(), UserMessage("hi")); err != nil {
		t.Fatal(err)
	}
	want := "You are terse.\n\nUse echo sparingly."
	if got := provider.reqs[0].Instructions; got != want {
		t.Errorf("Instructions = %q, want %q", got, want)
	}
	if _, ok := agent.Tools().Get("echo"); !ok {
		t.Error("toolkit tool not registered")
	}
	// Instructions() excludes toolkit guidelines.
	if agent.Instructions() != "You are terse." {
		t.Errorf("Instructions() = %q", agent.Instructions())
	}

	agent.SetInstructions("New rules.")
	if agent.Instructions() != "New rules." {
		t.Errorf("after SetInstructions: %q", agent.Instructions())
	}
}

func TestAgentStructured(t *testing.T) {
	provider := &mockProvider{structured: []json.RawMessage{
		json.RawMessage("```json\n{\"name\":\"Ada\"}\n```"),
	}}
	rec := &recorder{}
	agent := NewAgent("extractor", provider,
		WithTools(echoTool()),
		WithObserver("*", rec),
	)
	schema := ResponseSchema{Name: "person", Schema: json.RawMessage(`{"type":"object"}`)}

	raw, err := agent.Structured(context.Background(), UserMessage("who wrote the first program?"), schema, 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"name":"Ada"}` {
		t.Errorf("raw = %s, want fences stripped", raw)
	}

	// Structured requests never carry tools.
	if len(provider.reqs[0].Tools) != 0 {
		t.Errorf("structured request carried %d tools", len(provider.reqs[0].Tools))
	}

	msgs, _ := agent.History().Messages(context.Background())
	lastMsg := msgs[len(msgs)-1]
	if lastMsg.Role != RoleAssistant || lastMsg.Text() != `{"name":"Ada"}` {
		t.Errorf("history tail = %+v, want the cleaned payload", lastMsg)
	}

	extracting, ok := rec.find(EventStructuredExtracting)
	if !ok || extracting.Data["schema"] != "person" {
		t.Errorf("structured-extracting event = %+v", extracting)
	}
	extracted, ok := rec.find(EventStructuredExtracted)
	if !ok {
		t.Fatal("no structured-extracted event")
	}
	if extracted.Data["attempts"] != 1 {
		t.Errorf("attempts = %v, want 1", extracted.Data["attempts"])
	}
}

func TestAgentStructuredRetry(t *testing.T) {
	provider := &mockProvider{structured: []json.RawMessage{
		json.RawMessage("sorry, here you go:"),
		json.RawMessage(`{"ok":true}`),
	}}
	rec := &recorder{}
	agent := NewAgent("a", provider,
		WithInstructions("Extract."),
		WithObserver("*", rec),
	)

	raw, err := agent.Structured(context.Background(), UserMessage("x"), ResponseSchema{Name: "flag"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("raw = %s", raw)
	}

	if len(provider.reqs) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(provider.reqs))
	}
	if provider.reqs[0].Instructions != "Extract." {
		t.Errorf("first instructions = %q", provider.reqs[0].Instructions)
	}
	if !strings.Contains(provider.reqs[1].Instructions, "Return ONLY a valid JSON object") {
		t.Errorf("retry instructions not tightened: %q", provider.reqs[1].Instructions)
	}

	extracted, _ := rec.find(EventStructuredExtracted)
	if extracted.Data["attempts"] != 2 {
		t.Errorf("attempts = %v, want 2", extracted.Data["attempts"])
	}
}

func TestAgentStructuredExhausted(t *testing.T) {
	provider := &mockProvider{structured: []json.RawMessage{
		json.RawMessage("still not json"),
	}}
	agent := NewAgent("x", provider)

	_, err := agent.Structured(context.Background(), UserMessage("q"), ResponseSchema{Name: "s"}, -1)
	var ae *AgentError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want AgentError", err)
	}
	want := "agent x: structured extraction failed: attempt 1: response is not valid JSON"
	if ae.Error() != want {
		t.Errorf("Error() = %q, want %q", ae.Error(), want)
	}
	if len(provider.reqs) != 1 {
		t.Errorf("negative maxRetries ran %d attempts, want 1", len(provider.reqs))
	}
}

func TestAgentStructuredProviderError(t *testing.T) {
	cause := &ProviderError{Provider: "mock", Message: "down"}
	provider := &mockProvider{err: cause}
	agent := NewAgent("a", provider)

	_, err := agent.Structured(context.Background(), UserMessage("q"), ResponseSchema{Name: "s"}, 5)
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want immediate provider error", err)
	}
	if len(provider.reqs) != 1 {
		t.Errorf("provider error retried: %d requests", len(provider.reqs))
	}
}

func TestExtract(t *testing.T) {
	type person struct {
		Name string `json:"name"`
	}
	provider := &mockProvider{structured: []json.RawMessage{
		json.RawMessage(`{"name":"Ada"}`),
	}}
	agent := NewAgent("a", provider)

	got, err := Extract[person](context.Background(), agent, UserMessage("q"), ResponseSchema{Name: "person"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", got.Name)
	}
}

func TestExtractTypeMismatch(t *testing.T) {
	type person struct {
		Name string `json:"name"`
	}
	provider := &mockProvider{structured: []json.RawMessage{
		json.RawMessage(`{"name":123}`),
	}}
	agent := NewAgent("a", provider)

	_, err := Extract[person](context.Background(), agent, UserMessage("q"), ResponseSchema{Name: "person"}, 0)
	var ae *AgentError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want AgentError", err)
	}
	if !strings.Contains(ae.Error(), "structured payload does not match target") {
		t.Errorf("Error() = %q", ae.Error())
	}
}

func TestAgentTool(t *testing.T) {
	sub := NewAgent("research", &mockProvider{responses: []Message{
		AssistantMessage("the answer is 42"),
	}})
	tool := AgentTool(sub, "Delegate research questions")

	if tool.Name() != "agent_research" {
		t.Errorf("Name() = %q, want agent_research", tool.Name())
	}
	params := tool.Parameters()
	if len(params) != 1 || params[0].Name != "input" || !params[0].Required {
		t.Errorf("Parameters = %+v, want one required input", params)
	}

	tool.SetInputs(map[string]any{"input": "meaning of life"})
	res, err := tool.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res != "the answer is 42" {
		t.Errorf("Execute = %q", res)
	}
	msgs, _ := sub.History().Messages(context.Background())
	if msgs[0].Text() != "meaning of life" {
		t.Errorf("delegated message = %q", msgs[0].Text())
	}
}

func TestAgentToolDelegation(t *testing.T) {
	sub := NewAgent("math", &mockProvider{responses: []Message{
		AssistantMessage("4"),
	}})
	outer := NewAgent("outer", &mockProvider{responses: []Message{
		ToolCallMessage(NewToolCall("c1", "agent_math", `{"input":"2+2"}`)),
		AssistantMessage("It's 4."),
	}}, WithTools(AgentTool(sub, "Does math")))

	resp, err := outer.Chat(context.Background(), UserMessage("what is 2+2?"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "It's 4." {
		t.Errorf("Text() = %q", resp.Text())
	}
	msgs, _ := outer.History().Messages(context.Background())
	res, _ := msgs[2].ToolResult()
	if res.Content != "4" {
		t.Errorf("delegated result = %q", res.Content)
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"whitespace", "  {\"a\":1}\n", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(cleanJSON([]byte(tt.in))); got != tt.want {
				t.Errorf("cleanJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("short", 10); got != "short" {
		t.Errorf("truncateStr = %q", got)
	}
	long := strings.Repeat("a", 600)
	if got := truncateStr(long, 500); len(got) != 500 {
		t.Errorf("truncated length = %d, want 500", len(got))
	}
	wide := strings.Repeat("界", 600)
	got := truncateStr(wide, 500)
	if n := len([]rune(got)); n != 500 {
		t.Errorf("truncated rune count = %d, want 500", n)
	}
}

func TestRemoveDelimitedContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no block", "plain text", "plain text"},
		{"block only", "<X>inner</X>", ""},
		{"surrounded", "before<X>inner</X>after", "beforeafter"},
		{"unclosed", "before<X>inner", "before<X>inner"},
		{"close only", "inner</X>after", "inner</X>after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeDelimitedContent(tt.in, "<X>", "</X>"); got != tt.want {
				t.Errorf("removeDelimitedContent(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// fakeTracer records the spans it starts.
type fakeTracer struct {
	spans []*fakeSpan
}

type fakeSpan struct {
	name  string
	attrs []SpanAttr
	ended bool
}

func (t *fakeTracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	s := &fakeSpan{name: name, attrs: attrs}
	t.spans = append(t.spans, s)
	return ctx, s
}

func (s *fakeSpan) SetAttr(attrs ...SpanAttr) { s.attrs = append(s.attrs, attrs...) }
func (s *fakeSpan) Event(string, ...SpanAttr) {}
func (s *fakeSpan) Error(error)               {}
func (s *fakeSpan) End()                      { s.ended = true }

func TestAgentTracing(t *testing.T) {
	tracer := &fakeTracer{}
	a := NewAgent("traced", &mockProvider{responses: []Message{AssistantMessage("ok")}},
		WithTracer(tracer))
	if _, err := a.Chat(context.Background(), UserMessage("hi")); err != nil {
		t.Fatal(err)
	}
	if len(tracer.spans) != 1 {
		t.Fatalf("spans started = %d, want 1", len(tracer.spans))
	}
	span := tracer.spans[0]
	if span.name != "agent.chat" {
		t.Errorf("span name = %q, want agent.chat", span.name)
	}
	if !span.ended {
		t.Error("span never ended")
	}
	var named bool
	for _, attr := range span.attrs {
		if attr.Key == "agent.name" && attr.Value == "traced" {
			named = true
		}
	}
	if !named {
		t.Errorf("span attrs = %v, want agent.name", span.attrs)
	}
}
