package braid

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestRateLimitRPM(t *testing.T) {
	inner := &mockProvider{}
	p := WithRateLimit(inner, RPM(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Chat(ctx, ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := p.Chat(shortCtx(t), ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("third call error = %v, want deadline exceeded", err)
	}
	if len(inner.reqs) != 2 {
		t.Errorf("inner calls = %d, want 2", len(inner.reqs))
	}
}

func TestRateLimitTPMTrailsByOneRequest(t *testing.T) {
	inner := &mockProvider{responses: []Message{
		withUsage(AssistantMessage("first"), Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12}),
	}}
	p := WithRateLimit(inner, TPM(10))

	// The first call passes; its usage fills the token window.
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	_, err := p.Chat(shortCtx(t), ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second call error = %v, want deadline exceeded", err)
	}
	if len(inner.reqs) != 1 {
		t.Errorf("inner calls = %d, want 1", len(inner.reqs))
	}
}

func TestRateLimitNoCaps(t *testing.T) {
	inner := &mockProvider{}
	p := WithRateLimit(inner)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := p.Chat(ctx, ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if len(inner.reqs) != 5 {
		t.Errorf("inner calls = %d, want 5", len(inner.reqs))
	}
}

func TestRateLimitIgnoresMissingUsage(t *testing.T) {
	inner := &mockProvider{}
	p := WithRateLimit(inner, TPM(1))
	ctx := context.Background()

	// Responses without usage never consume token budget.
	for i := 0; i < 3; i++ {
		if _, err := p.Chat(ctx, ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if len(inner.reqs) != 3 {
		t.Errorf("inner calls = %d, want 3", len(inner.reqs))
	}
}

func TestRateLimitSharedAcrossMethods(t *testing.T) {
	inner := &mockProvider{structured: []json.RawMessage{json.RawMessage(`{}`)}}
	p := WithRateLimit(inner, RPM(1))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	_, err := p.Structured(shortCtx(t), ChatRequest{}, ResponseSchema{Name: "s"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("structured error = %v, want deadline exceeded", err)
	}
}

func TestRateLimitStream(t *testing.T) {
	inner := &mockProvider{responses: []Message{AssistantMessage("hi")}}
	p := WithRateLimit(inner, RPM(5))

	ch := make(chan string, 8)
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	close(ch)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "hi" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if got := <-ch; got != "hi" {
		t.Errorf("chunk = %q", got)
	}
}

func TestRateLimitName(t *testing.T) {
	p := WithRateLimit(&mockProvider{name: "inner"})
	if p.Name() != "inner" {
		t.Errorf("Name() = %q, want inner", p.Name())
	}
}

func TestPruneWindows(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	times := []time.Time{now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now.Add(-time.Second), now}
	pruned := pruneTime(times, cutoff)
	if len(pruned) != 2 || !pruned[0].Equal(now.Add(-time.Second)) {
		t.Errorf("pruneTime = %v", pruned)
	}

	entries := []tpmEntry{
		{at: now.Add(-2 * time.Minute), tokens: 100},
		{at: now.Add(-time.Second), tokens: 7},
	}
	prunedTpm := pruneTpm(entries, cutoff)
	if len(prunedTpm) != 1 || prunedTpm[0].tokens != 7 {
		t.Errorf("pruneTpm = %v", prunedTpm)
	}
}
