package braid

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// SourceType labels where a document's content came from.
type SourceType string

const (
	SourceText SourceType = "text"
	SourceFile SourceType = "file"
	SourceURL  SourceType = "url"
)

// Document is one unit of retrievable content.
type Document struct {
	ID         string
	Content    string
	SourceType SourceType
	SourceName string
	Metadata   map[string]any
	Embedding  []float32
	// Score is the similarity assigned by the most recent search,
	// 1 - cosine distance. Zero on stored documents.
	Score float32
}

// VectorStore persists embedded documents and answers nearest-neighbor
// queries.
type VectorStore interface {
	// AddDocuments stores docs. Every document must carry a non-empty
	// embedding.
	AddDocuments(ctx context.Context, docs []Document) error
	// SimilaritySearch returns up to topK documents nearest to embedding,
	// most similar first, with Score populated.
	SimilaritySearch(ctx context.Context, embedding []float32, topK int) ([]Document, error)
	// Name identifies the store in logs and events.
	Name() string
}

// CosineDistance returns 1 - cosine similarity of a and b, so 0 means
// identical direction and 2 means opposite. A zero-magnitude operand
// yields distance 1 (similarity 0). Mismatched dimensions are an error.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &VectorStoreError{Message: fmt.Sprintf("dimension mismatch: %d vs %d", len(a), len(b))}
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Float error can push similarity a hair outside [-1, 1].
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim, nil
}

// MemoryVectorStore is an in-memory VectorStore backed by a slice with a
// brute-force scan. Suitable for tests and small corpora.
type MemoryVectorStore struct {
	mu   sync.RWMutex
	docs []Document
}

func NewMemoryVectorStore() *MemoryVectorStore { return &MemoryVectorStore{} }

func (s *MemoryVectorStore) Name() string { return "memory" }

func (s *MemoryVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return &VectorStoreError{Store: s.Name(), Message: fmt.Sprintf("document %q has no embedding", d.ID)}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
	return nil
}

func (s *MemoryVectorStore) SimilaritySearch(ctx context.Context, embedding []float32, topK int) ([]Document, error) {
	if topK <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	snapshot := make([]Document, len(s.docs))
	copy(snapshot, s.docs)
	s.mu.RUnlock()

	type scored struct {
		doc  Document
		dist float64
	}
	ranked := make([]scored, 0, len(snapshot))
	for _, d := range snapshot {
		dist, err := CosineDistance(embedding, d.Embedding)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{doc: d, dist: dist})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	if topK > len(ranked) {
		topK = len(ranked)
	}
	out := make([]Document, topK)
	for i := range out {
		out[i] = ranked[i].doc
		out[i].Score = float32(1 - ranked[i].dist)
	}
	return out, nil
}

// Len reports the number of stored documents.
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

var _ VectorStore = (*MemoryVectorStore)(nil)
