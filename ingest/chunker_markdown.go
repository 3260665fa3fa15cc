package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var _ Splitter = (*MarkdownChunker)(nil)

// MarkdownChunker splits markdown at heading boundaries found by parsing
// the document, so setext headings and other forms a line-based scan would
// miss still open a new section. Headings stay in their chunks to give the
// model context.
//
// Small adjacent sections are merged up to the chunk size; a section too
// large on its own falls back to the plain Chunker.
type MarkdownChunker struct {
	maxRunes int
	fallback *Chunker
	md       goldmark.Markdown
}

// NewMarkdownChunker creates a MarkdownChunker. WithChunkSize and
// WithChunkOverlap apply; overlap only affects the fallback Chunker since
// merged sections never repeat content.
func NewMarkdownChunker(opts ...ChunkerOption) *MarkdownChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.size < 1 {
		cfg.size = 1
	}
	return &MarkdownChunker{
		maxRunes: cfg.size,
		fallback: NewChunker(opts...),
		md:       goldmark.New(),
	}
}

// Chunk splits markdown text into chunks respecting heading boundaries.
func (mc *MarkdownChunker) Chunk(src string) []string {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil
	}
	if utf8.RuneCountInString(src) <= mc.maxRunes {
		return []string{src}
	}
	return mc.merge(mc.sections([]byte(src)))
}

// sections splits the source at the line start of every heading.
func (mc *MarkdownChunker) sections(source []byte) []string {
	starts := mc.headingStarts(source)
	if len(starts) == 0 {
		return []string{string(source)}
	}

	var sections []string
	// Content before the first heading.
	if starts[0] > 0 {
		if pre := strings.TrimSpace(string(source[:starts[0]])); pre != "" {
			sections = append(sections, pre)
		}
	}
	for i, s := range starts {
		end := len(source)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if sec := strings.TrimSpace(string(source[s:end])); sec != "" {
			sections = append(sections, sec)
		}
	}
	return sections
}

// headingStarts parses the source and returns the byte offset of the line
// each heading begins on, in document order.
func (mc *MarkdownChunker) headingStarts(source []byte) []int {
	doc := mc.md.Parser().Parse(text.NewReader(source))

	var starts []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		lines := n.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		starts = append(starts, lineStart(source, lines.At(0).Start))
		return ast.WalkContinue, nil
	})
	return starts
}

// lineStart walks back from pos to the start of its line. Heading segments
// begin after the marker, so this recovers the "#" prefix of ATX headings.
func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

// merge joins small sections and splits oversized ones with the fallback.
func (mc *MarkdownChunker) merge(sections []string) []string {
	var chunks []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentRunes = 0
		}
	}

	for _, section := range sections {
		n := utf8.RuneCountInString(section)
		if n > mc.maxRunes {
			flush()
			chunks = append(chunks, mc.fallback.Chunk(section)...)
			continue
		}

		needed := n
		if currentRunes > 0 {
			needed = currentRunes + 2 + n
		}
		if needed <= mc.maxRunes {
			if currentRunes > 0 {
				current.WriteString("\n\n")
				currentRunes += 2
			}
			current.WriteString(section)
			currentRunes += n
		} else {
			flush()
			current.WriteString(section)
			currentRunes = n
		}
	}
	flush()
	return chunks
}
