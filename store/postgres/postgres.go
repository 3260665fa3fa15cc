// Package postgres implements braid.VectorStore on PostgreSQL using
// jackc/pgx. Embeddings are stored as float4[] columns and ranked
// in-process with cosine distance, so search behaves exactly like the
// sqlite and in-memory stores and no server extension is required.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool. Multiple Store
// instances may share one database; the schema statements are
// idempotent and writes are upserts keyed on document ID.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/braid-ai/braid"
)

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements braid.VectorStore backed by PostgreSQL.
// Embeddings live in a float4[] column and similarity search is done
// in-process by ranking with cosine distance.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

var _ braid.VectorStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
// The schema is created on first use.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name identifies the store in logs and retrieval events.
func (s *Store) Name() string { return "postgres" }

func (s *Store) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		start := time.Now()
		_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_name TEXT,
			metadata JSONB,
			embedding float4[] NOT NULL,
			created_at BIGINT NOT NULL
		)`)
		if err != nil {
			s.initErr = fmt.Errorf("create schema: %w", err)
			return
		}
		s.logger.Debug("postgres: schema ready", "duration", time.Since(start))
	})
	return s.initErr
}

// AddDocuments stores docs in a single transaction. Every document must
// carry a non-empty embedding.
func (s *Store) AddDocuments(ctx context.Context, docs []braid.Document) error {
	start := time.Now()
	s.logger.Debug("postgres: add documents", "count", len(docs))

	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return &braid.VectorStoreError{Store: s.Name(), Message: fmt.Sprintf("document %q has no embedding", d.ID)}
		}
	}
	if err := s.ensureSchema(ctx); err != nil {
		return &braid.VectorStoreError{Store: s.Name(), Message: "init schema", Err: err}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &braid.VectorStoreError{Store: s.Name(), Message: "begin tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().Unix()
	for _, d := range docs {
		var metaJSON *string
		if len(d.Metadata) > 0 {
			data, _ := json.Marshal(d.Metadata)
			v := string(data)
			metaJSON = &v
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (id, content, source_type, source_name, metadata, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content,
			   source_type = EXCLUDED.source_type,
			   source_name = EXCLUDED.source_name,
			   metadata = EXCLUDED.metadata,
			   embedding = EXCLUDED.embedding,
			   created_at = EXCLUDED.created_at`,
			d.ID, d.Content, string(d.SourceType), d.SourceName, metaJSON, d.Embedding, now,
		)
		if err != nil {
			s.logger.Error("postgres: insert document failed", "id", d.ID, "error", err)
			return &braid.VectorStoreError{Store: s.Name(), Message: "insert document", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &braid.VectorStoreError{Store: s.Name(), Message: "commit tx", Err: err}
	}
	s.logger.Debug("postgres: add documents ok", "count", len(docs), "duration", time.Since(start))
	return nil
}

// SimilaritySearch scans all stored documents and ranks them by cosine
// distance to embedding, returning up to topK with Score populated.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, topK int) ([]braid.Document, error) {
	start := time.Now()
	s.logger.Debug("postgres: similarity search", "top_k", topK, "embedding_dim", len(embedding))

	if topK <= 0 {
		return nil, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, &braid.VectorStoreError{Store: s.Name(), Message: "init schema", Err: err}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, content, source_type, source_name, metadata, embedding FROM documents`)
	if err != nil {
		return nil, &braid.VectorStoreError{Store: s.Name(), Message: "query documents", Err: err}
	}
	defer rows.Close()

	type scored struct {
		doc  braid.Document
		dist float64
	}
	var ranked []scored
	scanned := 0

	for rows.Next() {
		var d braid.Document
		var sourceType string
		var sourceName *string
		var metaJSON []byte
		var stored []float32
		if err := rows.Scan(&d.ID, &d.Content, &sourceType, &sourceName, &metaJSON, &stored); err != nil {
			return nil, &braid.VectorStoreError{Store: s.Name(), Message: "scan document", Err: err}
		}
		scanned++
		d.SourceType = braid.SourceType(sourceType)
		if sourceName != nil {
			d.SourceName = *sourceName
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &d.Metadata)
		}
		d.Embedding = stored
		dist, err := braid.CosineDistance(embedding, stored)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{doc: d, dist: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, &braid.VectorStoreError{Store: s.Name(), Message: "iterate documents", Err: err}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	if topK > len(ranked) {
		topK = len(ranked)
	}
	out := make([]braid.Document, topK)
	for i := range out {
		out[i] = ranked[i].doc
		out[i].Score = float32(1 - ranked[i].dist)
	}
	s.logger.Debug("postgres: similarity search ok", "scanned", scanned, "returned", len(out), "duration", time.Since(start))
	return out, nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}
