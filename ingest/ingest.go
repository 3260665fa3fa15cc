// Package ingest turns files into documents ready for retrieval.
//
// A FileReader loads a file into source documents, a Splitter cuts document
// content into chunks sized for embedding, and the Ingestor runs the two in
// sequence. The resulting documents carry no embeddings; pass them to
// RAG.AddDocuments, which embeds and stores them in one batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/braid-ai/braid"
)

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithReader registers an additional file reader. Readers registered later
// are consulted first, so a custom reader overrides the built-ins for
// extensions both support.
func WithReader(r FileReader) Option {
	return func(ing *Ingestor) { ing.readers = append([]FileReader{r}, ing.readers...) }
}

// WithSplitter sets the splitter for all content, disabling the automatic
// heading-aware splitting of markdown files.
func WithSplitter(s Splitter) Option {
	return func(ing *Ingestor) {
		ing.splitter = s
		ing.explicit = true
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(ing *Ingestor) {
		if logger != nil {
			ing.logger = logger
		}
	}
}

// Ingestor converts files and raw text into chunked documents.
type Ingestor struct {
	readers  []FileReader
	splitter Splitter
	explicit bool
	logger   *slog.Logger
}

// New creates an Ingestor with TextReader and PDFReader registered and a
// default Chunker.
func New(opts ...Option) *Ingestor {
	ing := &Ingestor{
		readers:  []FileReader{TextReader{}, PDFReader{}},
		splitter: NewChunker(),
		logger:   nopLogger,
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestFile reads and chunks the file at path. The returned documents have
// no embeddings yet.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) ([]braid.Document, error) {
	start := time.Now()
	reader, ok := ing.readerFor(path)
	if !ok {
		return nil, fmt.Errorf("ingest: no reader supports %s", path)
	}
	sources, err := reader.Read(ctx, path)
	if err != nil {
		return nil, err
	}

	splitter := ing.splitterFor(path)
	var docs []braid.Document
	for _, src := range sources {
		docs = append(docs, splitDocument(splitter, src)...)
	}
	ing.logger.Debug("ingest: file chunked",
		"path", path,
		"sources", len(sources),
		"documents", len(docs),
		"duration", time.Since(start))
	return docs, nil
}

// IngestText chunks raw text. name labels the resulting documents.
func (ing *Ingestor) IngestText(ctx context.Context, text, name string) ([]braid.Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	src := braid.Document{
		ID:         braid.NewID(),
		Content:    text,
		SourceType: braid.SourceText,
		SourceName: name,
	}
	docs := splitDocument(ing.splitter, src)
	ing.logger.Debug("ingest: text chunked", "name", name, "documents", len(docs))
	return docs, nil
}

func (ing *Ingestor) readerFor(path string) (FileReader, bool) {
	for _, r := range ing.readers {
		if r.Supports(path) {
			return r, true
		}
	}
	return nil, false
}

// splitterFor picks the heading-aware splitter for markdown files unless an
// explicit splitter was configured.
func (ing *Ingestor) splitterFor(path string) Splitter {
	if ing.explicit {
		return ing.splitter
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return NewMarkdownChunker()
	}
	return ing.splitter
}

// splitDocument cuts one source document into chunk documents. Chunks keep
// the source's type, name, and metadata, and record their index under the
// "chunk" metadata key. A document that fits in a single chunk passes
// through unchanged.
func splitDocument(splitter Splitter, src braid.Document) []braid.Document {
	chunks := splitter.Chunk(src.Content)
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) == 1 && chunks[0] == src.Content {
		return []braid.Document{src}
	}
	docs := make([]braid.Document, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(src.Metadata)+1)
		for k, v := range src.Metadata {
			meta[k] = v
		}
		meta["chunk"] = i
		docs[i] = braid.Document{
			ID:         braid.NewID(),
			Content:    chunk,
			SourceType: src.SourceType,
			SourceName: src.SourceName,
			Metadata:   meta,
		}
	}
	return docs
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
