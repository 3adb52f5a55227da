package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JCHanratty/CASearch/internal/query"
)

// =============================================================================
// Shared fixture: both backends must answer the same queries the same way.
// =============================================================================

type fixtureDoc struct {
	pages  []Page
	chunks []Chunk
}

func lexicalFixture() []fixtureDoc {
	return []fixtureDoc{
		{
			pages: []Page{
				{Number: 1, CleanText: "Overtime shall be paid at the overtime rate of time and a half."},
				{Number: 2, CleanText: "Vacation pay is calculated on wages earned in the prior year."},
				{Number: 3, CleanText: "Sick leave accrues at one day per month of service."},
			},
			chunks: []Chunk{
				{Ordinal: 0, Heading: "ARTICLE 12 SENIORITY", Text: "Seniority is calculated from the date of hire."},
				{Ordinal: 1, Heading: "ARTICLE 13 LAYOFF", Text: "Layoffs proceed in reverse order of seniority."},
			},
		},
		{
			pages: []Page{
				{Number: 1, CleanText: "The overtime rate for part-time employees is set out in Schedule A."},
			},
			chunks: []Chunk{
				{Ordinal: 0, Heading: "SCHEDULE A", Text: "Part-time employees receive the overtime rate after forty hours."},
			},
		},
	}
}

type lexicalBackend struct {
	name string
	open func(t *testing.T) LexicalIndex
}

func lexicalBackends() []lexicalBackend {
	return []lexicalBackend{
		{name: "sqlite", open: openSQLiteFixture},
		{name: "bleve", open: openBleveFixture},
	}
}

func openSQLiteFixture(t *testing.T) LexicalIndex {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for i, fd := range lexicalFixture() {
		doc, err := s.CreateDocument(ctx, "doc", "/docs/"+string(rune('a'+i))+".txt")
		require.NoError(t, err)
		require.Equal(t, int64(i+1), doc.ID)
		require.NoError(t, s.ReplaceContent(ctx, doc.ID, withRaw(fd.pages, doc.ID), withDoc(fd.chunks, doc.ID)))
	}
	return s
}

func openBleveFixture(t *testing.T) LexicalIndex {
	t.Helper()
	b, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	for i, fd := range lexicalFixture() {
		id := int64(i + 1)
		require.NoError(t, b.IndexDocument(ctx, id, withRaw(fd.pages, id), withDoc(fd.chunks, id)))
	}
	return b
}

func withRaw(pages []Page, docID int64) []Page {
	out := make([]Page, len(pages))
	for i, p := range pages {
		p.DocumentID = docID
		p.RawText = p.CleanText
		out[i] = p
	}
	return out
}

func withDoc(chunks []Chunk, docID int64) []Chunk {
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = docID
		out[i] = c
	}
	return out
}

func refsOf(hits []LexicalHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Ref.String()
	}
	return out
}

// =============================================================================
// Contract tests
// =============================================================================

func TestLexicalIndex_Phrase(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)

			hits, err := idx.Search(context.Background(), CollectionPages, query.Parse(`"overtime rate"`), 10)

			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"page:1:1", "page:2:1"}, refsOf(hits))
			for _, h := range hits {
				assert.Greater(t, h.Score, 0.0)
			}
		})
	}
}

func TestLexicalIndex_DocumentFilter(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)
			q := query.Parse(`"overtime rate"`)
			q.DocumentID = 2

			hits, err := idx.Search(context.Background(), CollectionPages, q, 10)

			require.NoError(t, err)
			assert.Equal(t, []string{"page:2:1"}, refsOf(hits))
		})
	}
}

func TestLexicalIndex_PrefixTerm(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)

			hits, err := idx.Search(context.Background(), CollectionPages, query.Parse("vacat"), 10)

			require.NoError(t, err)
			assert.Equal(t, []string{"page:1:2"}, refsOf(hits))
		})
	}
}

func TestLexicalIndex_AndOr(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)
			q := query.Parse("overtime vacation")

			and, err := idx.Search(context.Background(), CollectionPages, q, 10)
			require.NoError(t, err)
			assert.Empty(t, and)

			or, err := idx.Search(context.Background(), CollectionPages, q.WithMode(query.ModeOr), 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"page:1:1", "page:1:2", "page:2:1"}, refsOf(or))
		})
	}
}

func TestLexicalIndex_SynonymExpansion(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)
			q := query.Parse("salary")
			q.Expansions = map[string][]string{"salary": {"wages", "time and a half"}}

			hits, err := idx.Search(context.Background(), CollectionPages, q, 10)

			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"page:1:1", "page:1:2"}, refsOf(hits))
		})
	}
}

func TestLexicalIndex_ChunksSearchHeadingAndText(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)

			hits, err := idx.Search(context.Background(), CollectionChunks, query.Parse("seniority"), 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"chunk:1:0", "chunk:1:1"}, refsOf(hits))

			hits, err = idx.Search(context.Background(), CollectionChunks, query.Parse("schedule"), 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"chunk:2:0"}, refsOf(hits))
		})
	}
}

func TestLexicalIndex_Snippet(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)

			hits, err := idx.Search(context.Background(), CollectionPages, query.Parse("vacation"), 10)

			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Contains(t, strings.ToLower(hits[0].Snippet), "[vacation]")
		})
	}
}

func TestLexicalIndex_EmptyQuery(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)

			hits, err := idx.Search(context.Background(), CollectionPages, query.Parse("the of"), 10)

			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestLexicalIndex_Limit(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)
			q := query.Parse("overtime vacation sick").WithMode(query.ModeOr)

			hits, err := idx.Search(context.Background(), CollectionPages, q, 2)

			require.NoError(t, err)
			assert.Len(t, hits, 2)
		})
	}
}

func TestLexicalIndex_Count(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)

			pages, err := idx.Count(context.Background(), CollectionPages)
			require.NoError(t, err)
			assert.Equal(t, 4, pages)

			chunks, err := idx.Count(context.Background(), CollectionChunks)
			require.NoError(t, err)
			assert.Equal(t, 3, chunks)

			_, err = idx.Count(context.Background(), Collection("bogus"))
			assert.Error(t, err)
		})
	}
}

func TestLexicalIndex_Deterministic(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend.name, func(t *testing.T) {
			idx := backend.open(t)
			q := query.Parse("overtime").WithMode(query.ModeOr)

			first, err := idx.Search(context.Background(), CollectionPages, q, 10)
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				again, err := idx.Search(context.Background(), CollectionPages, q, 10)
				require.NoError(t, err)
				assert.Equal(t, refsOf(first), refsOf(again))
			}
		})
	}
}

// =============================================================================
// Bleve specifics
// =============================================================================

func TestBleveIndex_ReindexReplacesUnits(t *testing.T) {
	// Given: a document indexed twice with different content
	b, err := NewBleveIndex("")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	require.NoError(t, b.IndexDocument(ctx, 7, []Page{{Number: 1, CleanText: "grievance"}, {Number: 2, CleanText: "arbitration"}}, nil))
	require.NoError(t, b.IndexDocument(ctx, 7, []Page{{Number: 1, CleanText: "probation"}}, nil))

	// Then: only the new content remains
	n, err := b.Count(ctx, CollectionPages)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := b.Search(ctx, CollectionPages, query.Parse("arbitration"), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndex_DeleteDocument(t *testing.T) {
	b, err := NewBleveIndex("")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	require.NoError(t, b.IndexDocument(ctx, 1, []Page{{Number: 1, CleanText: "grievance"}}, nil))
	require.NoError(t, b.IndexDocument(ctx, 2, []Page{{Number: 1, CleanText: "grievance"}}, nil))

	require.NoError(t, b.DeleteDocument(ctx, 1))

	hits, err := b.Search(ctx, CollectionPages, query.Parse("grievance"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"page:2:1"}, refsOf(hits))
}

func TestBleveIndex_PersistsToDisk(t *testing.T) {
	path := t.TempDir() + "/lexical.bleve"
	ctx := context.Background()

	b, err := NewBleveIndex(path)
	require.NoError(t, err)
	require.NoError(t, b.IndexDocument(ctx, 1, []Page{{Number: 1, CleanText: "probationary period"}}, nil))
	require.NoError(t, b.Close())

	reopened, err := NewBleveIndex(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	hits, err := reopened.Search(ctx, CollectionPages, query.Parse("probation"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"page:1:1"}, refsOf(hits))
}

func TestWordTokenizer(t *testing.T) {
	stream := (&wordTokenizer{}).Tokenize([]byte("Article 7.01: Over-time"))

	var terms []string
	for _, tok := range stream {
		terms = append(terms, string(tok.Term))
	}
	assert.Equal(t, []string{"Article", "7", "01", "Over", "time"}, terms)
	assert.Equal(t, 1, stream[0].Position)
	assert.Equal(t, 5, stream[4].Position)
}
