package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/braid-ai/braid"
)

type stubEmbedder struct{ dims int }

func (s stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}
func (s stubEmbedder) Dimensions() int { return s.dims }
func (s stubEmbedder) Name() string    { return "stub" }

type fakeReader struct{ docs []braid.Document }

func (f fakeReader) Supports(path string) bool { return strings.HasSuffix(path, ".txt") }
func (f fakeReader) Read(context.Context, string) ([]braid.Document, error) {
	return f.docs, nil
}

func TestIngestFileText(t *testing.T) {
	path := writeFile(t, "notes.txt", "Hello, ingest.")
	ing := New()

	docs, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Content != "Hello, ingest." {
		t.Errorf("unexpected content %q", docs[0].Content)
	}
	if docs[0].SourceName != "notes.txt" {
		t.Errorf("unexpected source name %s", docs[0].SourceName)
	}
	if len(docs[0].Embedding) != 0 {
		t.Error("ingestor should not embed")
	}
}

func TestIngestFileSplits(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 20)
	path := writeFile(t, "long.txt", text)
	ing := New(WithSplitter(NewChunker(WithChunkSize(50), WithChunkOverlap(0))))

	docs, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(docs) <= 1 {
		t.Fatal("expected multiple chunk documents")
	}
	seen := map[string]bool{}
	for i, d := range docs {
		if d.ID == "" || seen[d.ID] {
			t.Errorf("document %d has missing or duplicate ID", i)
		}
		seen[d.ID] = true
		if d.SourceName != "long.txt" {
			t.Errorf("document %d lost its source name", i)
		}
		if d.Metadata["chunk"] != i {
			t.Errorf("document %d has chunk index %v", i, d.Metadata["chunk"])
		}
		if d.Metadata["path"] != path {
			t.Errorf("document %d lost its path metadata", i)
		}
	}
}

func TestIngestFileMarkdownSplitsOnHeadings(t *testing.T) {
	text := "# One\n\n" + strings.Repeat("alpha ", 250) +
		"\n\n# Two\n\n" + strings.Repeat("beta ", 250)
	path := writeFile(t, "doc.md", text)
	ing := New()

	docs, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(docs) < 2 {
		t.Fatalf("expected at least 2 documents, got %d", len(docs))
	}
	foundOne := false
	foundTwo := false
	for _, d := range docs {
		if strings.Contains(d.Content, "# One") {
			foundOne = true
		}
		if strings.Contains(d.Content, "# Two") {
			foundTwo = true
		}
	}
	if !foundOne || !foundTwo {
		t.Error("markdown sections should keep their headings")
	}
}

func TestIngestFileUnsupported(t *testing.T) {
	ing := New()
	_, err := ing.IngestFile(context.Background(), "image.png")
	if err == nil || !strings.Contains(err.Error(), "no reader supports") {
		t.Errorf("expected unsupported-file error, got %v", err)
	}
}

func TestIngestText(t *testing.T) {
	ing := New()
	docs, err := ing.IngestText(context.Background(), "Some inline knowledge.", "faq")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].SourceType != braid.SourceText {
		t.Errorf("expected SourceText, got %s", docs[0].SourceType)
	}
	if docs[0].SourceName != "faq" {
		t.Errorf("expected source name faq, got %s", docs[0].SourceName)
	}
}

func TestIngestTextEmpty(t *testing.T) {
	ing := New()
	docs, err := ing.IngestText(context.Background(), "   ", "faq")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected no documents, got %d", len(docs))
	}
}

func TestWithReaderOverridesBuiltin(t *testing.T) {
	custom := fakeReader{docs: []braid.Document{{
		ID:         braid.NewID(),
		Content:    "from custom reader",
		SourceType: braid.SourceFile,
		SourceName: "anything.txt",
	}}}
	ing := New(WithReader(custom))

	docs, err := ing.IngestFile(context.Background(), "anything.txt")
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "from custom reader" {
		t.Errorf("custom reader should take precedence, got %+v", docs)
	}
}

func TestIngestedDocumentsFeedRAG(t *testing.T) {
	text := strings.Repeat("retrieval ready content ", 30)
	path := writeFile(t, "kb.txt", text)
	ing := New(WithSplitter(NewChunker(WithChunkSize(60), WithChunkOverlap(0))))

	docs, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(docs) <= 1 {
		t.Fatal("expected multiple chunk documents")
	}

	store := braid.NewMemoryVectorStore()
	rag := braid.NewRAG("kb", nil, stubEmbedder{dims: 8}, store)
	if err := rag.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if store.Len() != len(docs) {
		t.Errorf("expected %d stored documents, got %d", len(docs), store.Len())
	}
}
