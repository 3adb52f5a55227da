package chunk

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Options configures the structure chunker. Zero fields use the defaults.
type Options struct {
	MaxChars     int // Maximum characters per chunk before overlap (default: DefaultMaxChunkChars)
	MinChars     int // Minimum size before a heading starts a new chunk (default: DefaultMinChunkChars)
	OverlapChars int // Overlap carried into the next chunk; negative disables (default: DefaultOverlapChars)
}

// StructureChunker splits agreements at article and section headings.
// Documents without any heading are chunked page by page.
type StructureChunker struct {
	options Options
}

// Verify interface implementation at compile time
var _ Chunker = (*StructureChunker)(nil)

// NewStructureChunker creates a chunker with default options.
func NewStructureChunker() *StructureChunker {
	return NewStructureChunkerWithOptions(Options{})
}

// NewStructureChunkerWithOptions creates a chunker with custom options.
func NewStructureChunkerWithOptions(opts Options) *StructureChunker {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChunkChars
	}
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChunkChars
	}
	if opts.OverlapChars < 0 {
		opts.OverlapChars = 0
	} else if opts.OverlapChars == 0 {
		opts.OverlapChars = DefaultOverlapChars
	}
	if opts.MinChars > opts.MaxChars {
		opts.MinChars = opts.MaxChars
	}
	return &StructureChunker{options: opts}
}

// Chunk splits doc into chunks. Level 1 and 2 headings start a new chunk once
// the current one holds MinChars; a line that would take a chunk past
// MaxChars starts the next one.
// Each chunk after the first begins with the tail of the previous one.
func (c *StructureChunker) Chunk(ctx context.Context, doc *Document) ([]*Chunk, error) {
	if doc == nil {
		return nil, nil
	}

	headings := detectHeadings(doc.Pages)
	b := &builder{options: c.options}

	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i, line := range strings.Split(page.Text, "\n") {
			if h, ok := headings[lineKey{page.Number, i + 1}]; ok && h.Level <= 2 {
				if b.size() >= c.options.MinChars {
					b.flush()
				}
				b.enter(h)
			}
			for _, part := range splitLongLine(line, c.options.MaxChars) {
				if n := b.size(); n > 0 && n+1+len(part) > c.options.MaxChars {
					b.flush()
				}
				b.add(part, page.Number)
			}
		}

		if len(headings) == 0 {
			b.flush()
		}
	}
	b.flush()

	return b.chunks, nil
}

type lineKey struct {
	page, line int
}

// detectHeadings returns the headings of every page, keyed by page number
// and 1-based line.
func detectHeadings(pages []Page) map[lineKey]Heading {
	out := make(map[lineKey]Heading)
	for _, page := range pages {
		for i, line := range strings.Split(page.Text, "\n") {
			if h, ok := DetectHeading(line); ok {
				h.Page = page.Number
				h.Line = i + 1
				out[lineKey{page.Number, i + 1}] = h
			}
		}
	}
	return out
}

// Outline returns the level 1 and 2 headings of pages in document order.
func Outline(pages []Page) []Heading {
	var out []Heading
	for _, page := range pages {
		for i, line := range strings.Split(page.Text, "\n") {
			if h, ok := DetectHeading(line); ok && h.Level <= 2 {
				h.Page = page.Number
				h.Line = i + 1
				out = append(out, h)
			}
		}
	}
	return out
}

// builder accumulates lines into chunks.
type builder struct {
	options Options
	chunks  []*Chunk

	lines     []string
	chars     int
	pageStart int
	pageEnd   int
	headings  []string

	article string
	heading string
	parent  string
	section string

	previous string
}

// enter updates the heading context for a heading that starts here.
func (b *builder) enter(h Heading) {
	if h.Level == 1 {
		b.article = h.Text
		b.parent = ""
	} else {
		b.parent = b.article
	}
	b.heading = h.Text
	b.section = SectionNumber(h.Text)
	b.headings = append(b.headings, h.Text)
}

func (b *builder) add(line string, page int) {
	if strings.TrimSpace(line) != "" {
		if b.pageStart == 0 {
			b.pageStart = page
		}
		b.pageEnd = page
	}
	if len(b.lines) > 0 {
		b.chars++
	}
	b.lines = append(b.lines, line)
	b.chars += len(line)
}

// size returns the length of the pending text.
func (b *builder) size() int {
	if b.pageStart == 0 {
		return 0
	}
	return b.chars
}

// flush closes the pending chunk, if it has any text.
func (b *builder) flush() {
	text := strings.TrimSpace(strings.Join(b.lines, "\n"))
	if text != "" {
		full := text
		if overlap := overlapTail(b.previous, b.options.OverlapChars); overlap != "" {
			full = overlap + "\n\n" + text
		}
		b.chunks = append(b.chunks, &Chunk{
			Ordinal:       len(b.chunks),
			Text:          full,
			Heading:       b.heading,
			ParentHeading: b.parent,
			SectionNumber: b.section,
			PageStart:     b.pageStart,
			PageEnd:       b.pageEnd,
			Headings:      b.headings,
		})
		b.previous = text
	}

	b.lines = nil
	b.chars = 0
	b.pageStart = 0
	b.pageEnd = 0
	b.headings = nil
}

// overlapTail returns about the last n bytes of text, starting at a word
// boundary when one is close.
func overlapTail(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if len(text) <= n {
		return text
	}

	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	tail := text[start:]
	if i := strings.IndexAny(tail, " \n"); i > 0 && i < n/2 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

// splitLongLine breaks a line longer than limit at spaces, or hard at limit
// bytes when a piece has no space.
func splitLongLine(line string, limit int) []string {
	if len(line) <= limit {
		return []string{line}
	}

	var parts []string
	for len(line) > limit {
		cut := strings.LastIndex(line[:limit], " ")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(line)
			}
		}
		parts = append(parts, strings.TrimSpace(line[:cut]))
		line = strings.TrimSpace(line[cut:])
	}
	if line != "" {
		parts = append(parts, line)
	}
	return parts
}
