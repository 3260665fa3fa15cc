package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/braid-ai/braid"
)

func testGemini(url string) *Gemini {
	return New("test-key", "test-model", WithBaseURL(url))
}

func TestBuildBody_SystemMessages(t *testing.T) {
	g := New("test-key", "test-model")
	req := braid.ChatRequest{
		Instructions: "You are a helpful assistant.",
		Messages: []braid.Message{
			braid.SystemMessage("Be concise."),
			braid.UserMessage("Hello"),
		},
	}

	body := g.buildBody(req)

	si, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("expected systemInstruction in body")
	}
	parts, ok := si["parts"].([]map[string]any)
	if !ok || len(parts) != 1 {
		t.Fatal("expected exactly 1 systemInstruction part")
	}
	text := parts[0]["text"].(string)
	if text != "You are a helpful assistant.\n\nBe concise." {
		t.Errorf("unexpected systemInstruction text: %q", text)
	}

	contents, ok := body["contents"].([]map[string]any)
	if !ok || len(contents) != 1 {
		t.Fatalf("expected 1 content entry, got %v", body["contents"])
	}
	if contents[0]["role"] != "user" {
		t.Errorf("expected user role, got %v", contents[0]["role"])
	}
}

func TestBuildBody_ToolCalls(t *testing.T) {
	g := New("test-key", "test-model")
	call := braid.NewToolCall("get_weather", "get_weather", `{"city":"Oslo"}`)
	req := braid.ChatRequest{
		Messages: []braid.Message{
			braid.UserMessage("Weather in Oslo?"),
			braid.ToolCallMessage(call),
			braid.ToolResultMessage("get_weather", "get_weather", "cloudy, 12C"),
		},
	}

	body := g.buildBody(req)
	contents := body["contents"].([]map[string]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 content entries, got %d", len(contents))
	}

	if contents[1]["role"] != "model" {
		t.Errorf("tool call turn should have model role, got %v", contents[1]["role"])
	}
	callParts := contents[1]["parts"].([]map[string]any)
	fc := callParts[0]["functionCall"].(map[string]any)
	if fc["name"] != "get_weather" {
		t.Errorf("expected function name get_weather, got %v", fc["name"])
	}
	args := fc["args"].(map[string]any)
	if args["city"] != "Oslo" {
		t.Errorf("expected args city Oslo, got %v", args)
	}

	if contents[2]["role"] != "user" {
		t.Errorf("tool result turn should have user role, got %v", contents[2]["role"])
	}
	resultParts := contents[2]["parts"].([]map[string]any)
	fr := resultParts[0]["functionResponse"].(map[string]any)
	if fr["name"] != "get_weather" {
		t.Errorf("expected functionResponse name get_weather, got %v", fr["name"])
	}
	response := fr["response"].(map[string]any)
	if response["result"] != "cloudy, 12C" {
		t.Errorf("expected result content, got %v", response)
	}
}

func TestBuildBody_GenerationParams(t *testing.T) {
	g := New("test-key", "test-model")
	temp := 0.7
	req := braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("hi")},
		Params: &braid.GenerationParams{
			Temperature: &temp,
			MaxTokens:   256,
			Stop:        []string{"END"},
		},
	}

	body := g.buildBody(req)
	cfg := body["generationConfig"].(map[string]any)
	if cfg["temperature"] != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", cfg["temperature"])
	}
	if cfg["topP"] != 0.9 {
		t.Errorf("expected default topP 0.9, got %v", cfg["topP"])
	}
	if cfg["maxOutputTokens"] != 256 {
		t.Errorf("expected maxOutputTokens 256, got %v", cfg["maxOutputTokens"])
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected key query param, got %q", r.URL.Query().Get("key"))
		}
		fmt.Fprint(w, `{
			"candidates": [{"content": {"parts": [{"text": "Hello there"}], "role": "model"}}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 3}
		}`)
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	msg, err := g.Chat(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if msg.Text() != "Hello there" {
		t.Errorf("expected text, got %q", msg.Text())
	}
	if msg.Usage == nil || msg.Usage.PromptTokens != 7 || msg.Usage.TotalTokens != 10 {
		t.Errorf("unexpected usage: %+v", msg.Usage)
	}
}

func TestChat_FunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"candidates": [{"content": {"parts": [
				{"functionCall": {"name": "search", "args": {"query": "golang"}}}
			], "role": "model"}}]
		}`)
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	msg, err := g.Chat(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("find golang docs")},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	req, ok := msg.ToolCalls()
	if !ok || len(req.Calls) != 1 {
		t.Fatalf("expected 1 tool call, got %+v", msg.Content)
	}
	call := req.Calls[0]
	if call.Function.Name != "search" {
		t.Errorf("expected search, got %s", call.Function.Name)
	}
	// Gemini has no call IDs, so the name is reused.
	if call.CallID != "search" {
		t.Errorf("expected call ID search, got %s", call.CallID)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["query"] != "golang" {
		t.Errorf("expected query golang, got %v", args)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("expected alt=sse, got %q", r.URL.Query().Get("alt"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": "Hello"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": " world"}]}}], "usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2}}`+"\n\n")
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	ch := make(chan string, 16)
	msg, err := g.ChatStream(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("Hi")},
	}, ch)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	close(ch)

	var streamed strings.Builder
	for chunk := range ch {
		streamed.WriteString(chunk)
	}
	if streamed.String() != "Hello world" {
		t.Errorf("expected streamed text, got %q", streamed.String())
	}
	if msg.Text() != "Hello world" {
		t.Errorf("expected accumulated text, got %q", msg.Text())
	}
	if msg.Usage == nil || msg.Usage.CompletionTokens != 2 {
		t.Errorf("unexpected usage: %+v", msg.Usage)
	}
}

func TestChatStream_SplitFrame(t *testing.T) {
	// A single JSON frame split across two SSE lines must be reassembled.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": "par`+"\n")
		fmt.Fprint(w, `tial"}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	ch := make(chan string, 16)
	msg, err := g.ChatStream(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("Hi")},
	}, ch)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if msg.Text() != "partial" {
		t.Errorf("expected reassembled text, got %q", msg.Text())
	}
}

func TestChatStream_FunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"functionCall": {"name": "lookup", "args": {"id": 7}}}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	ch := make(chan string, 16)
	msg, err := g.ChatStream(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("look up 7")},
	}, ch)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	req, ok := msg.ToolCalls()
	if !ok || len(req.Calls) != 1 || req.Calls[0].Function.Name != "lookup" {
		t.Fatalf("expected lookup tool call, got %+v", msg.Content)
	}
}

func TestStructured(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"candidates": [{"content": {"parts": [
				{"functionCall": {"name": "person", "args": {"name": "Ada", "age": 36}}}
			], "role": "model"}}]
		}`)
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	raw, err := g.Structured(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("Extract the person")},
	}, braid.ResponseSchema{
		Name:   "person",
		Schema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"age":{"type":"integer"}}}`),
	})
	if err != nil {
		t.Fatalf("Structured returned error: %v", err)
	}

	var out struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if out.Name != "Ada" || out.Age != 36 {
		t.Errorf("unexpected result: %+v", out)
	}

	// The request must force the declared function.
	tc, ok := gotBody["toolConfig"].(map[string]any)
	if !ok {
		t.Fatal("expected toolConfig in request body")
	}
	fcc := tc["functionCallingConfig"].(map[string]any)
	if fcc["mode"] != "ANY" {
		t.Errorf("expected mode ANY, got %v", fcc["mode"])
	}
	allowed := fcc["allowedFunctionNames"].([]any)
	if len(allowed) != 1 || allowed[0] != "person" {
		t.Errorf("expected allowedFunctionNames [person], got %v", allowed)
	}
}

func TestStructured_NoFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates": [{"content": {"parts": [{"text": "I cannot do that"}], "role": "model"}}]}`)
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	_, err := g.Structured(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("Extract")},
	}, braid.ResponseSchema{Name: "person", Schema: json.RawMessage(`{"type":"object"}`)})
	if err == nil {
		t.Fatal("expected error when model skips the tool")
	}
}

func TestChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"code": 429, "message": "quota exceeded", "details": [
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "30s"}
		]}}`)
	}))
	defer srv.Close()

	g := testGemini(srv.URL)
	_, err := g.Chat(context.Background(), braid.ChatRequest{
		Messages: []braid.Message{braid.UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *braid.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", perr.StatusCode)
	}
	if perr.RetryAfter != 30 {
		t.Errorf("expected RetryAfter 30 from RetryInfo, got %d", perr.RetryAfter)
	}
}

func TestEmbed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.Contains(r.URL.Path, "embed-model:embedContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["outputDimensionality"] != float64(3) {
			t.Errorf("expected outputDimensionality 3, got %v", body["outputDimensionality"])
		}
		fmt.Fprint(w, `{"embedding": {"values": [0.1, 0.2, 0.3]}}`)
	}))
	defer srv.Close()

	e := NewEmbedding("test-key", "embed-model", 3)
	e.baseURL = srv.URL

	vecs, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", calls)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("unexpected vector shape: %v", vecs)
	}
	if vecs[0][1] != float32(0.2) {
		t.Errorf("expected 0.2, got %v", vecs[0][1])
	}
	if e.Dimensions() != 3 {
		t.Errorf("expected dimensions 3, got %d", e.Dimensions())
	}
}

func TestIsCompleteJSON(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{`{"a": 1}`, true},
		{`{"a": {"b": [1, 2]}}`, true},
		{`{"a": 1`, false},
		{`{"a": "brace } in string"}`, true},
		{`{"a": "unterminated`, false},
		{`{"a": "esc\"aped"}`, true},
	}
	for _, tc := range cases {
		if got := isCompleteJSON(tc.in); got != tc.want {
			t.Errorf("isCompleteJSON(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
