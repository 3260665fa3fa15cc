package braid

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"time"
)

// DefaultTopK is the similarity-search depth when WithTopK is not set.
const DefaultTopK = 4

const (
	extraContextOpen  = "<EXTRA-CONTEXT>"
	extraContextClose = "</EXTRA-CONTEXT>"

	contextStartMarker = "--- Relevant Information Start ---"
	contextEndMarker   = "--- Relevant Information End ---"
)

// RAG is an Agent that retrieves relevant documents from a vector store
// and injects them into its instructions before answering. All Agent
// methods remain available.
type RAG struct {
	*Agent
	embedder EmbeddingProvider
	store    VectorStore
	topK     int
	post     []PostProcessor
}

type ragConfig struct {
	topK      int
	post      []PostProcessor
	agentOpts []AgentOption
}

// RAGOption configures a RAG at construction.
type RAGOption func(*ragConfig)

// WithTopK sets how many documents similarity search returns (default 4).
func WithTopK(k int) RAGOption {
	return func(c *ragConfig) { c.topK = k }
}

// WithPostProcessors appends post-processors applied to retrieval results
// in order.
func WithPostProcessors(ps ...PostProcessor) RAGOption {
	return func(c *ragConfig) { c.post = append(c.post, ps...) }
}

// WithAgentOptions forwards options to the underlying Agent.
func WithAgentOptions(opts ...AgentOption) RAGOption {
	return func(c *ragConfig) { c.agentOpts = append(c.agentOpts, opts...) }
}

// NewRAG creates a retrieval-augmented agent over the given embedder and
// vector store.
func NewRAG(name string, provider Provider, embedder EmbeddingProvider, store VectorStore, opts ...RAGOption) *RAG {
	cfg := ragConfig{topK: DefaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.topK <= 0 {
		cfg.topK = DefaultTopK
	}
	return &RAG{
		Agent:    NewAgent(name, provider, cfg.agentOpts...),
		embedder: embedder,
		store:    store,
		topK:     cfg.topK,
		post:     cfg.post,
	}
}

// AddDocuments embeds the documents' contents in one batch and stores
// them. The input slice is not mutated; documents without an ID get one.
func (r *RAG) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	r.publish(ctx, EventRAGAddDocumentsStart, map[string]any{"count": len(docs)})

	copied := make([]Document, len(docs))
	copy(copied, docs)
	texts := make([]string, len(copied))
	for i, d := range copied {
		texts[i] = d.Content
	}

	embs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return &EmbeddingError{Provider: r.embedder.Name(), Message: "embed documents", Err: err}
	}
	if len(embs) != len(copied) {
		return &EmbeddingError{
			Provider: r.embedder.Name(),
			Message:  fmt.Sprintf("got %d embeddings for %d documents", len(embs), len(copied)),
		}
	}
	for i := range copied {
		copied[i].Embedding = embs[i]
		if copied[i].ID == "" {
			copied[i].ID = NewID()
		}
	}

	if err := r.store.AddDocuments(ctx, copied); err != nil {
		return err
	}
	r.publish(ctx, EventRAGAddDocumentsStop, map[string]any{"count": len(copied)})
	return nil
}

// RetrieveDocuments runs the retrieval pipeline for a question: embed the
// query, search the store, dedupe by content, then apply post-processors
// in registration order.
func (r *RAG) RetrieveDocuments(ctx context.Context, question Message) ([]Document, error) {
	query := strings.TrimSpace(question.Text())
	if query == "" {
		return nil, &AgentError{Agent: r.name, Message: "query required"}
	}
	retrievalStart := time.Now()
	r.publish(ctx, EventRAGRetrievalStart, map[string]any{"question": query})

	docs, err := r.similaritySearch(ctx, query)
	if err != nil {
		return nil, err
	}
	docs = dedupeDocuments(docs)

	for _, p := range r.post {
		r.publish(ctx, EventRAGPostProcessingStart, map[string]any{"processor": p.Name(), "count": len(docs)})
		out, err := p.Process(ctx, query, docs)
		if err != nil {
			return nil, &PostProcessorError{Processor: p.Name(), Err: err}
		}
		docs = out
		r.publish(ctx, EventRAGPostProcessingEnd, map[string]any{"processor": p.Name(), "count": len(docs)})
	}

	r.publish(ctx, EventRAGRetrievalStop, map[string]any{
		"count":       len(docs),
		"duration_ms": time.Since(retrievalStart).Milliseconds(),
	})
	return docs, nil
}

func (r *RAG) similaritySearch(ctx context.Context, query string) ([]Document, error) {
	embs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &EmbeddingError{Provider: r.embedder.Name(), Message: "embed query", Err: err}
	}
	if len(embs) == 0 {
		return nil, &EmbeddingError{Provider: r.embedder.Name(), Message: "no embedding returned for query"}
	}

	r.publish(ctx, EventRAGVectorStoreSearching, map[string]any{
		"store": r.store.Name(),
		"top_k": r.topK,
	})
	start := time.Now()
	docs, err := r.store.SimilaritySearch(ctx, embs[0], r.topK)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, EventRAGVectorStoreResult, map[string]any{
		"store":      r.store.Name(),
		"question":   query,
		"documents":  docs,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return docs, nil
}

// dedupeDocuments drops documents whose content hashes equal an earlier
// document's, preserving first-seen order. Empty content is dropped.
func dedupeDocuments(docs []Document) []Document {
	seen := make(map[[md5.Size]byte]struct{}, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Content == "" {
			continue
		}
		sum := md5.Sum([]byte(d.Content))
		if _, ok := seen[sum]; ok {
			continue
		}
		seen[sum] = struct{}{}
		out = append(out, d)
	}
	return out
}

// formatContext renders retrieved documents between the relevance markers.
func formatContext(docs []Document) string {
	var b strings.Builder
	b.WriteString(contextStartMarker)
	b.WriteString("\n")
	for _, d := range docs {
		name := d.SourceName
		if name == "" {
			name = "N/A"
		}
		fmt.Fprintf(&b, "Source: %s\n%s\n\n", name, d.Content)
	}
	b.WriteString(contextEndMarker)
	return b.String()
}

// injectContext replaces the agent's <EXTRA-CONTEXT> block with a fresh
// one. Repeated calls replace, never accumulate.
func (r *RAG) injectContext(docs []Document) {
	instr := strings.TrimSpace(removeDelimitedContent(r.Instructions(), extraContextOpen, extraContextClose))
	block := extraContextOpen + "\n" + formatContext(docs) + "\n" + extraContextClose
	if instr == "" {
		r.SetInstructions(block)
		return
	}
	r.SetInstructions(instr + "\n\n" + block)
}

// Answer retrieves context for the question, injects it into the
// instructions, and delegates to Chat.
func (r *RAG) Answer(ctx context.Context, question Message) (Message, error) {
	r.publish(ctx, EventRAGAnswerStart, map[string]any{"question": question.Text()})
	docs, err := r.RetrieveDocuments(ctx, question)
	if err != nil {
		r.publish(ctx, EventError, map[string]any{"error": err.Error()})
		return Message{}, err
	}
	r.injectContext(docs)
	resp, err := r.Chat(ctx, question)
	if err != nil {
		return Message{}, err
	}
	r.publish(ctx, EventRAGAnswerStop, map[string]any{"documents": len(docs)})
	return resp, nil
}

// StreamAnswer is Answer with streaming delivery of the reply text.
func (r *RAG) StreamAnswer(ctx context.Context, question Message, ch chan<- string) (Message, error) {
	r.publish(ctx, EventRAGAnswerStart, map[string]any{"question": question.Text()})
	docs, err := r.RetrieveDocuments(ctx, question)
	if err != nil {
		r.publish(ctx, EventError, map[string]any{"error": err.Error()})
		return Message{}, err
	}
	r.injectContext(docs)
	resp, err := r.Stream(ctx, question, ch)
	if err != nil {
		return Message{}, err
	}
	r.publish(ctx, EventRAGAnswerStop, map[string]any{"documents": len(docs)})
	return resp, nil
}
