package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/braid-ai/braid"
)

var _ FileReader = PDFReader{}

// PDFReader extracts text from PDF files, one document per page. Pages
// without a readable text layer are skipped rather than failing the whole
// file, so a scanned PDF can yield zero documents.
type PDFReader struct{}

// Supports reports true for .pdf files.
func (PDFReader) Supports(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".pdf"
}

// Read extracts the text of every page. The page number is recorded under
// the "page" metadata key, counting from 1.
func (PDFReader) Read(ctx context.Context, path string) ([]braid.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	var docs []braid.Document
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(norm.NFC.String(pageText))
		if pageText == "" {
			continue
		}
		docs = append(docs, braid.Document{
			ID:         braid.NewID(),
			Content:    pageText,
			SourceType: braid.SourceFile,
			SourceName: name,
			Metadata:   map[string]any{"path": path, "page": i},
		})
	}
	return docs, nil
}
