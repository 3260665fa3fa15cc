// Package sqlite implements braid.VectorStore and braid.ChatHistory using
// pure-Go SQLite with in-process brute-force vector search. Zero CGO
// required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/braid-ai/braid"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements braid.VectorStore backed by a local SQLite file.
// Embeddings are stored as JSON text and similarity search is done
// in-process by ranking with cosine distance.
type Store struct {
	db     *sql.DB
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

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
// The schema is created on first use.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Name identifies the store in logs and retrieval events.
func (s *Store) Name() string { return "sqlite" }

func (s *Store) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		start := time.Now()
		_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_name TEXT,
			metadata TEXT,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`)
		if err != nil {
			s.initErr = fmt.Errorf("create schema: %w", err)
			return
		}
		s.logger.Debug("sqlite: schema ready", "duration", time.Since(start))
	})
	return s.initErr
}

// AddDocuments stores docs in a single transaction. Every document must
// carry a non-empty embedding.
func (s *Store) AddDocuments(ctx context.Context, docs []braid.Document) error {
	start := time.Now()
	s.logger.Debug("sqlite: add documents", "count", len(docs))

	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return &braid.VectorStoreError{Store: s.Name(), Message: fmt.Sprintf("document %q has no embedding", d.ID)}
		}
	}
	if err := s.ensureSchema(ctx); err != nil {
		return &braid.VectorStoreError{Store: s.Name(), Message: "init schema", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &braid.VectorStoreError{Store: s.Name(), Message: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().Unix()
	for _, d := range docs {
		var metaJSON *string
		if len(d.Metadata) > 0 {
			data, _ := json.Marshal(d.Metadata)
			v := string(data)
			metaJSON = &v
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO documents (id, content, source_type, source_name, metadata, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Content, string(d.SourceType), d.SourceName, metaJSON, serializeEmbedding(d.Embedding), now,
		)
		if err != nil {
			s.logger.Error("sqlite: insert document failed", "id", d.ID, "error", err)
			return &braid.VectorStoreError{Store: s.Name(), Message: "insert document", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &braid.VectorStoreError{Store: s.Name(), Message: "commit tx", Err: err}
	}
	s.logger.Debug("sqlite: add documents ok", "count", len(docs), "duration", time.Since(start))
	return nil
}

// SimilaritySearch scans all stored documents and ranks them by cosine
// distance to embedding, returning up to topK with Score populated.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, topK int) ([]braid.Document, error) {
	start := time.Now()
	s.logger.Debug("sqlite: similarity search", "top_k", topK, "embedding_dim", len(embedding))

	if topK <= 0 {
		return nil, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, &braid.VectorStoreError{Store: s.Name(), Message: "init schema", Err: err}
	}

	rows, err := s.db.QueryContext(ctx,
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
		var sourceName, metaJSON sql.NullString
		var embJSON string
		if err := rows.Scan(&d.ID, &d.Content, &sourceType, &sourceName, &metaJSON, &embJSON); err != nil {
			return nil, &braid.VectorStoreError{Store: s.Name(), Message: "scan document", Err: err}
		}
		scanned++
		d.SourceType = braid.SourceType(sourceType)
		if sourceName.Valid {
			d.SourceName = sourceName.String
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &d.Metadata)
		}
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
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
	s.logger.Debug("sqlite: similarity search ok", "scanned", scanned, "returned", len(out), "duration", time.Since(start))
	return out, nil
}

// DB returns the underlying *sql.DB for sharing with History.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
