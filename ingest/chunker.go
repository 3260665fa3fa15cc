package ingest

import (
	"strings"
	"unicode"
)

// Splitter cuts text into chunks sized for embedding.
type Splitter interface {
	Chunk(text string) []string
}

// ChunkerOption configures a chunker.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	size    int
	overlap int
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{size: 2048, overlap: 200}
}

// WithChunkSize sets the maximum chunk length in runes (default 2048).
func WithChunkSize(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.size = n }
}

// WithChunkOverlap sets how many runes consecutive chunks share
// (default 200).
func WithChunkOverlap(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlap = n }
}

var _ Splitter = (*Chunker)(nil)

// Chunker splits text into overlapping windows measured in runes. A window
// that would end mid-word is cut back to the last word boundary inside it,
// and the next window opens at a word start, so words survive chunking
// intact. Text without spaces, such as CJK prose, is cut at the window
// edge.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. An overlap of at least the chunk size is
// clamped to a quarter of it so that chunking always advances.
func NewChunker(opts ...ChunkerOption) *Chunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.size < 1 {
		cfg.size = 1
	}
	if cfg.overlap < 0 {
		cfg.overlap = 0
	}
	if cfg.overlap >= cfg.size {
		cfg.overlap = cfg.size / 4
	}
	return &Chunker{size: cfg.size, overlap: cfg.overlap}
}

// Chunk splits text into chunks of at most the configured size.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := snapBack(runes, start, end)
		if chunk := strings.TrimSpace(string(runes[start:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - c.overlap
		if next <= start {
			next = cut
		} else {
			next = snapForward(runes, next, cut)
		}
		start = next
	}
	return chunks
}

// snapBack returns the cut position for a window ending at end, moved back
// to just after the last space inside the window. A window with no space is
// cut at end.
func snapBack(runes []rune, start, end int) int {
	for i := end; i > start; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// snapForward moves pos ahead to the next word start, never past limit.
// A pos already at a word start is returned unchanged.
func snapForward(runes []rune, pos, limit int) int {
	if pos <= 0 || unicode.IsSpace(runes[pos-1]) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return pos
}
