package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/braid-ai/braid"
)

// FileReader loads a file into source documents.
//
// Readers return documents without embeddings. A reader may return more
// than one document per file, for example one per PDF page.
type FileReader interface {
	// Read loads the file at path.
	Read(ctx context.Context, path string) ([]braid.Document, error)
	// Supports reports whether the reader handles files like path.
	Supports(path string) bool
}

var _ FileReader = TextReader{}

// TextReader reads plain text and markdown files. Content is normalized to
// Unicode NFC so that visually identical text embeds identically regardless
// of how the source file encoded its accents.
type TextReader struct{}

// Supports reports true for .txt, .md, and .markdown files.
func (TextReader) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// Read loads the file as a single document. Empty files yield no documents.
func (TextReader) Read(_ context.Context, path string) ([]braid.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	content := strings.TrimSpace(norm.NFC.String(string(data)))
	if content == "" {
		return nil, nil
	}
	return []braid.Document{{
		ID:         braid.NewID(),
		Content:    content,
		SourceType: braid.SourceFile,
		SourceName: filepath.Base(path),
		Metadata:   map[string]any{"path": path},
	}}, nil
}
