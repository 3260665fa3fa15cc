package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMarkdownChunkerShortDoc(t *testing.T) {
	mc := NewMarkdownChunker()
	chunks := mc.Chunk("# Hello\n\nShort doc.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0], "# Hello") {
		t.Error("heading should be preserved in chunk")
	}
}

func TestMarkdownChunkerEmpty(t *testing.T) {
	mc := NewMarkdownChunker()
	if chunks := mc.Chunk(""); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for empty input, got %d", len(chunks))
	}
}

func TestMarkdownChunkerSplitsOnHeadings(t *testing.T) {
	mc := NewMarkdownChunker(WithChunkSize(200))

	text := "# Section One\n\n" + strings.Repeat("Word ", 30) +
		"\n\n# Section Two\n\n" + strings.Repeat("Word ", 30)

	chunks := mc.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	foundOne := false
	foundTwo := false
	for _, c := range chunks {
		if strings.Contains(c, "# Section One") {
			foundOne = true
		}
		if strings.Contains(c, "# Section Two") {
			foundTwo = true
		}
	}
	if !foundOne || !foundTwo {
		t.Error("each section should appear in a chunk with its heading")
	}
}

func TestMarkdownChunkerMergesSmallSections(t *testing.T) {
	mc := NewMarkdownChunker(WithChunkSize(100))

	secA := "# A\n\n" + strings.Repeat("a", 40)
	secB := "# B\n\n" + strings.Repeat("b", 40)
	secC := "# C\n\n" + strings.Repeat("c", 40)
	text := secA + "\n\n" + secB + "\n\n" + secC

	chunks := mc.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected A+B merged and C alone, got %d chunks", len(chunks))
	}
	if !strings.Contains(chunks[0], "# A") || !strings.Contains(chunks[0], "# B") {
		t.Errorf("first chunk should merge sections A and B, got %q", chunks[0])
	}
	if !strings.Contains(chunks[1], "# C") {
		t.Errorf("second chunk should hold section C, got %q", chunks[1])
	}
}

func TestMarkdownChunkerFallbackOnLargeSection(t *testing.T) {
	mc := NewMarkdownChunker(WithChunkSize(100))

	text := "# Big Section\n\n" + strings.Repeat("word ", 50)
	chunks := mc.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected large section to be split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk %d has %d runes, want <= 100", i, n)
		}
	}
}

func TestMarkdownChunkerSetextHeadings(t *testing.T) {
	mc := NewMarkdownChunker(WithChunkSize(200))

	text := strings.Repeat("intro ", 30) +
		"\n\nFirst Title\n-----\n\n" + strings.Repeat("alpha ", 30) +
		"\n\nSecond Title\n=====\n\n" + strings.Repeat("beta ", 30)

	chunks := mc.Chunk(text)
	if len(chunks) < 3 {
		t.Fatalf("expected preamble and two sections, got %d chunks", len(chunks))
	}
	if strings.Contains(chunks[0], "First Title") {
		t.Error("preamble chunk should stop before the first setext heading")
	}
	foundFirst := false
	foundSecond := false
	for _, c := range chunks {
		if strings.Contains(c, "First Title") {
			foundFirst = true
		}
		if strings.Contains(c, "Second Title") {
			foundSecond = true
		}
	}
	if !foundFirst || !foundSecond {
		t.Error("setext headings should open their own sections")
	}
}

func TestMarkdownChunkerPreamble(t *testing.T) {
	mc := NewMarkdownChunker(WithChunkSize(100))

	text := strings.Repeat("pre ", 15) + "\n\n# H\n\n" + strings.Repeat("body ", 15)
	chunks := mc.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if strings.Contains(chunks[0], "# H") {
		t.Error("preamble should not include the heading")
	}
	if !strings.HasPrefix(chunks[1], "# H") {
		t.Errorf("second chunk should start at the heading, got %q", chunks[1])
	}
}
