package braid

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// rateLimitProvider throttles calls to an inner Provider against
// requests-per-minute and tokens-per-minute budgets using sliding
// one-minute windows. Token accounting uses the usage reported on
// responses, so TPM throttling trails by one request.
type rateLimitProvider struct {
	inner Provider

	mu        sync.Mutex
	rpm       int
	rpmWindow []time.Time
	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures a rateLimitProvider.
type RateLimitOption func(*rateLimitProvider)

// RPM caps requests per minute. Zero or negative disables the cap.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM caps tokens per minute, counting prompt plus completion tokens
// from response usage. Zero or negative disables the cap.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p with client-side rate limiting. Calls that would
// exceed a budget block until the window frees up or ctx is done.
//
//	llm := braid.WithRateLimit(openaicompat.NewOpenAI(key, model), braid.RPM(60), braid.TPM(90000))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (Message, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return Message{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.recordUsage(resp.Usage)
	}
	return resp, err
}

func (r *rateLimitProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (Message, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return Message{}, err
	}
	resp, err := r.inner.ChatStream(ctx, req, ch)
	if err == nil {
		r.recordUsage(resp.Usage)
	}
	return resp, err
}

func (r *rateLimitProvider) Structured(ctx context.Context, req ChatRequest, schema ResponseSchema) (json.RawMessage, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return nil, err
	}
	return r.inner.Structured(ctx, req, schema)
}

// waitForBudget blocks until both the RPM and TPM windows have room,
// then records the request.
func (r *rateLimitProvider) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		r.rpmWindow = pruneTime(r.rpmWindow, cutoff)
		r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

		rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm
		tpmOK := r.tpm <= 0 || r.tpmTotal() < r.tpm
		if rpmOK && tpmOK {
			r.rpmWindow = append(r.rpmWindow, now)
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry ages out of the window.
		var wait time.Duration
		if !rpmOK && len(r.rpmWindow) > 0 {
			wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(r.tpmWindow) > 0 {
			if w := r.tpmWindow[0].at.Add(time.Minute).Sub(now); w > wait {
				wait = w
			}
		}
		r.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *rateLimitProvider) recordUsage(u *Usage) {
	if r.tpm <= 0 || u == nil {
		return
	}
	total := u.PromptTokens + u.CompletionTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: time.Now(), tokens: total})
	r.mu.Unlock()
}

func (r *rateLimitProvider) tpmTotal() int {
	total := 0
	for _, e := range r.tpmWindow {
		total += e.tokens
	}
	return total
}

func pruneTime(w []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(w) && w[i].Before(cutoff) {
		i++
	}
	return w[i:]
}

func pruneTpm(w []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(w) && w[i].at.Before(cutoff) {
		i++
	}
	return w[i:]
}

var _ Provider = (*rateLimitProvider)(nil)
