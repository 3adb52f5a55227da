package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// body returns roughly n characters of clause text with no heading lines.
func body(n int) string {
	const sentence = "the employer and the union agree to the terms set out below. "
	return strings.TrimSpace(strings.Repeat(sentence, n/len(sentence)+1)[:n])
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

// ============================================================================
// Structure chunking
// ============================================================================

func TestStructureChunker_SplitsAtHeadings(t *testing.T) {
	// Given: two articles, the second with two numbered sections
	doc := &Document{Name: "city", Pages: []Page{
		{Number: 1, Text: lines(
			"ARTICLE 1 - RECOGNITION", body(300),
			"ARTICLE 2 - HOURS OF WORK", body(300),
		)},
		{Number: 2, Text: lines(
			"2.01 Regular Hours", body(300),
			"2.02 Overtime", body(300),
		)},
	}}

	// When: chunking
	chunks, err := NewStructureChunker().Chunk(context.Background(), doc)

	// Then: each heading starts a chunk carrying its context
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	assert.Equal(t, "ARTICLE 1 - RECOGNITION", chunks[0].Heading)
	assert.Equal(t, "1", chunks[0].SectionNumber)
	assert.Empty(t, chunks[0].ParentHeading)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "ARTICLE 1 - RECOGNITION"))

	assert.Equal(t, "ARTICLE 2 - HOURS OF WORK", chunks[1].Heading)
	assert.Equal(t, 1, chunks[1].PageStart)
	assert.Equal(t, 1, chunks[1].PageEnd)

	assert.Equal(t, "2.01 Regular Hours", chunks[2].Heading)
	assert.Equal(t, "ARTICLE 2 - HOURS OF WORK", chunks[2].ParentHeading)
	assert.Equal(t, "2.01", chunks[2].SectionNumber)
	assert.Equal(t, 2, chunks[2].PageStart)

	assert.Equal(t, "2.02 Overtime", chunks[3].Heading)
	assert.Equal(t, "ARTICLE 2 - HOURS OF WORK", chunks[3].ParentHeading, "parent is the article, not the previous section")
	assert.Equal(t, []string{"2.02 Overtime"}, chunks[3].Headings)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}

func TestStructureChunker_OverlapFromPreviousChunk(t *testing.T) {
	doc := &Document{Pages: []Page{{Number: 1, Text: lines(
		"ARTICLE 1 - RECOGNITION", body(300)+" recognition ends here",
		"ARTICLE 2 - HOURS OF WORK", body(300),
	)}}}

	chunks, err := NewStructureChunker().Chunk(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "ARTICLE 1"), "first chunk has no overlap")
	assert.Contains(t, chunks[1].Text, "recognition ends here\n\nARTICLE 2 - HOURS OF WORK")
	assert.False(t, strings.HasPrefix(chunks[1].Text, "ARTICLE 2"))
}

func TestStructureChunker_SmallSectionsMerge(t *testing.T) {
	// Given: headings closer together than the minimum chunk size
	doc := &Document{Pages: []Page{{Number: 1, Text: lines(
		"ARTICLE 1 - PREAMBLE", "Short.",
		"ARTICLE 2 - DEFINITIONS", "Also short.",
	)}}}

	chunks, err := NewStructureChunker().Chunk(context.Background(), doc)

	// Then: they share one chunk headed by the latest heading
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "ARTICLE 2 - DEFINITIONS", chunks[0].Heading)
	assert.Equal(t, []string{"ARTICLE 1 - PREAMBLE", "ARTICLE 2 - DEFINITIONS"}, chunks[0].Headings)
	assert.Contains(t, chunks[0].Text, "Short.")
}

func TestStructureChunker_MaxSize(t *testing.T) {
	// Given: one article far longer than the maximum, as many lines
	var parts []string
	parts = append(parts, "ARTICLE 7 - BENEFITS")
	for i := 0; i < 60; i++ {
		parts = append(parts, body(100))
	}
	doc := &Document{Pages: []Page{{Number: 1, Text: lines(parts...)}}}

	// When: chunking without overlap
	chunks, err := NewStructureChunkerWithOptions(Options{OverlapChars: -1}).Chunk(context.Background(), doc)

	// Then: every chunk fits and keeps the article heading
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), DefaultMaxChunkChars)
		assert.Equal(t, "ARTICLE 7 - BENEFITS", c.Heading)
	}
	assert.Equal(t, []string{"ARTICLE 7 - BENEFITS"}, chunks[0].Headings)
	assert.Empty(t, chunks[1].Headings)
}

func TestStructureChunker_LongLineIsSplit(t *testing.T) {
	doc := &Document{Pages: []Page{{Number: 1, Text: "ARTICLE 1\n" + body(5000)}}}

	chunks, err := NewStructureChunkerWithOptions(Options{OverlapChars: -1}).Chunk(context.Background(), doc)

	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), DefaultMaxChunkChars)
	}
}

func TestStructureChunker_PageRange(t *testing.T) {
	doc := &Document{Pages: []Page{
		{Number: 1, Text: lines("ARTICLE 4 - SENIORITY", body(150))},
		{Number: 2, Text: body(150)},
		{Number: 3, Text: lines("ARTICLE 5 - LAYOFF", body(100))},
	}}

	chunks, err := NewStructureChunker().Chunk(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 2, chunks[0].PageEnd)
	assert.Equal(t, 3, chunks[1].PageStart)
	assert.Equal(t, 3, chunks[1].PageEnd)
}

func TestStructureChunker_NoHeadingsFallsBackToPages(t *testing.T) {
	doc := &Document{Pages: []Page{
		{Number: 1, Text: "the parties agree to meet monthly."},
		{Number: 2, Text: "minutes are shared with all members."},
	}}

	chunks, err := NewStructureChunker().Chunk(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "the parties agree to meet monthly.", chunks[0].Text)
	assert.Equal(t, "the parties agree to meet monthly.\n\nminutes are shared with all members.", chunks[1].Text)
	assert.Equal(t, 2, chunks[1].PageStart)
	assert.Equal(t, 2, chunks[1].PageEnd)
	assert.Empty(t, chunks[1].Heading)
}

func TestStructureChunker_Empty(t *testing.T) {
	c := NewStructureChunker()

	chunks, err := c.Chunk(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(context.Background(), &Document{Pages: []Page{{Number: 1, Text: "  \n\n "}}})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestStructureChunker_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStructureChunker().Chunk(ctx, &Document{Pages: []Page{{Number: 1, Text: "ARTICLE 1"}}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutline(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: lines("ARTICLE 1 - RECOGNITION", "(a) the union is the sole agent", "text")},
		{Number: 2, Text: lines("text", "1.01 Scope")},
	}

	got := Outline(pages)

	require.Len(t, got, 2)
	assert.Equal(t, Heading{Level: 1, Kind: HeadingArticle, Text: "ARTICLE 1 - RECOGNITION", Page: 1, Line: 1}, got[0])
	assert.Equal(t, Heading{Level: 2, Kind: HeadingNumbered, Text: "1.01 Scope", Page: 2, Line: 2}, got[1])
}

// ============================================================================
// Helpers
// ============================================================================

func TestOverlapTail(t *testing.T) {
	assert.Equal(t, "short text", overlapTail("short text", 200))
	assert.Empty(t, overlapTail("anything", 0))
	assert.Empty(t, overlapTail("", 200))

	long := body(1000)
	tail := overlapTail(long, 200)
	assert.LessOrEqual(t, len(tail), 200)
	assert.True(t, strings.HasSuffix(long, tail))
	assert.NotEqual(t, " ", tail[:1])
}

func TestSplitLongLine(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitLongLine("short", 10))
	assert.Equal(t, []string{"one two", "three"}, splitLongLine("one two three", 9))
	assert.Equal(t, []string{"abcde", "fghij"}, splitLongLine("abcdefghij", 5))
}
