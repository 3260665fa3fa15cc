package braid

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PostProcessor reorders, filters, or rescores retrieval results. The
// pipeline runs processors in registration order and stops on the first
// error.
type PostProcessor interface {
	Name() string
	Process(ctx context.Context, query string, docs []Document) ([]Document, error)
}

type postProcessorFunc struct {
	name string
	fn   func(ctx context.Context, query string, docs []Document) ([]Document, error)
}

func (p *postProcessorFunc) Name() string { return p.name }

func (p *postProcessorFunc) Process(ctx context.Context, query string, docs []Document) ([]Document, error) {
	return p.fn(ctx, query, docs)
}

// ScoreThreshold drops documents scoring below min, keeping order.
func ScoreThreshold(min float32) PostProcessor {
	return &postProcessorFunc{
		name: "score-threshold",
		fn: func(_ context.Context, _ string, docs []Document) ([]Document, error) {
			out := make([]Document, 0, len(docs))
			for _, d := range docs {
				if d.Score >= min {
					out = append(out, d)
				}
			}
			return out, nil
		},
	}
}

// TopN keeps the first n documents.
func TopN(n int) PostProcessor {
	return &postProcessorFunc{
		name: "top-n",
		fn: func(_ context.Context, _ string, docs []Document) ([]Document, error) {
			if n < 0 {
				n = 0
			}
			if len(docs) <= n {
				return docs, nil
			}
			return docs[:n], nil
		},
	}
}

// LLMReranker asks an LLM to score query-document relevance 0-10, then
// re-sorts by the normalized score. On LLM failure or an unparseable
// response the input passes through unmodified.
type LLMReranker struct {
	provider Provider
	topN     int
}

var _ PostProcessor = (*LLMReranker)(nil)

// NewLLMReranker creates a reranker on the given provider. topN > 0 trims
// the reranked list; topN <= 0 keeps everything.
func NewLLMReranker(provider Provider, topN int) *LLMReranker {
	return &LLMReranker{provider: provider, topN: topN}
}

func (r *LLMReranker) Name() string { return "llm-reranker" }

func (r *LLMReranker) Process(ctx context.Context, query string, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return docs, nil
	}

	var listing strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&listing, "Document %d:\n%s\n\n", i, d.Content)
	}
	prompt := fmt.Sprintf(
		"Rate the relevance of each document to the query on a scale of 0-10.\n\nQuery: %s\n\n%sRespond with JSON only: {\"scores\":[{\"index\":0,\"score\":N}, ...]}",
		query, listing.String(),
	)

	resp, err := r.provider.Chat(ctx, ChatRequest{Messages: []Message{UserMessage(prompt)}})
	if err != nil {
		return docs, nil // degrade gracefully
	}

	var parsed struct {
		Scores []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		} `json:"scores"`
	}
	if err := json.Unmarshal(cleanJSON([]byte(resp.Text())), &parsed); err != nil {
		return docs, nil // degrade gracefully
	}

	out := make([]Document, len(docs))
	copy(out, docs)
	for _, s := range parsed.Scores {
		if s.Index >= 0 && s.Index < len(out) {
			out[s.Index].Score = float32(s.Score / 10.0)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if r.topN > 0 && len(out) > r.topN {
		out = out[:r.topN]
	}
	return out, nil
}
