package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JCHanratty/CASearch/internal/query"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// =============================================================================
// Documents
// =============================================================================

func TestSQLiteStore_CreateAndGetDocument(t *testing.T) {
	// Given: an empty store
	s := newTestStore(t)
	ctx := context.Background()

	// When: registering a document
	doc, err := s.CreateDocument(ctx, "Local 101 Agreement", "/docs/local101.txt")
	require.NoError(t, err)

	// Then: it starts pending and can be read back by id and path
	assert.Equal(t, StatusPending, doc.Status)
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Local 101 Agreement", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	byPath, err := s.FindDocumentByPath(ctx, "/docs/local101.txt")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byPath.ID)
}

func TestSQLiteStore_DuplicatePathRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateDocument(ctx, "a", "/docs/a.txt")
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, "a again", "/docs/a.txt")
	assert.Error(t, err)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDocument(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindDocumentByPath(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPage(ctx, 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetChunk(ctx, 99, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, 99, StatusIndexed, ""), ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, 99), ErrNotFound)
	assert.ErrorIs(t, s.ReplaceContent(ctx, 99, nil, nil), ErrNotFound)
}

func TestSQLiteStore_StatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, err := s.CreateDocument(ctx, "a", "/docs/a.txt")
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, doc.ID, StatusError, "read failed"))
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "read failed", got.Error)

	// Leaving the error state clears the message
	require.NoError(t, s.SetStatus(ctx, doc.ID, StatusIndexed, "ignored"))
	got, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, got.Status)
	assert.Empty(t, got.Error)
}

func TestSQLiteStore_RenameDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, err := s.CreateDocument(ctx, "city-2023", "/docs/city-2023.json")
	require.NoError(t, err)

	require.NoError(t, s.RenameDocument(ctx, doc.ID, "City Agreement 2023"))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "City Agreement 2023", got.Name)
	assert.ErrorIs(t, s.RenameDocument(ctx, 99, "x"), ErrNotFound)
}

func TestSQLiteStore_ListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"/b", "/a", "/c"} {
		_, err := s.CreateDocument(ctx, p, p)
		require.NoError(t, err)
	}

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "/b", docs[0].Path)
	assert.Less(t, docs[0].ID, docs[2].ID)
}

// =============================================================================
// Content
// =============================================================================

func seedDocument(t *testing.T, s *SQLiteStore, path string) *Document {
	t.Helper()
	ctx := context.Background()
	doc, err := s.CreateDocument(ctx, filepath.Base(path), path)
	require.NoError(t, err)
	pages := []Page{
		{DocumentID: doc.ID, Number: 1, CleanText: "grievance procedure", RawText: "grievance procedure\nLocal 101"},
		{DocumentID: doc.ID, Number: 2, CleanText: "arbitration", RawText: "arbitration\nLocal 101"},
	}
	chunks := []Chunk{
		{DocumentID: doc.ID, Ordinal: 0, Heading: "ARTICLE 9 GRIEVANCES", Text: "grievance procedure", SectionNumber: "9", PageStart: 1, PageEnd: 1},
		{DocumentID: doc.ID, Ordinal: 1, Heading: "ARTICLE 10 ARBITRATION", ParentHeading: "ARTICLE 9 GRIEVANCES", Text: "arbitration", PageStart: 2, PageEnd: 2},
	}
	require.NoError(t, s.ReplaceContent(ctx, doc.ID, pages, chunks))
	return doc
}

func TestSQLiteStore_ReplaceContent(t *testing.T) {
	// Given: a document with two pages and two chunks
	s := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "/docs/a.txt")

	// Then: content reads back and the page count is updated
	page, err := s.GetPage(ctx, doc.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "arbitration\nLocal 101", page.RawText)

	chunk, err := s.GetChunk(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "ARTICLE 9 GRIEVANCES", chunk.ParentHeading)
	assert.Equal(t, 2, chunk.PageStart)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PageCount)

	// When: replacing with a single page and no chunks
	require.NoError(t, s.ReplaceContent(ctx, doc.ID,
		[]Page{{DocumentID: doc.ID, Number: 1, CleanText: "seniority", RawText: "seniority"}}, nil))

	// Then: old rows and old postings are gone
	_, err = s.GetPage(ctx, doc.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	chunks, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	hits, err := s.Search(ctx, CollectionPages, query.Parse("arbitration"), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.Search(ctx, CollectionPages, query.Parse("seniority"), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSQLiteStore_ReplaceContentRejectsCleanLongerThanRaw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "/docs/a.txt")

	err := s.ReplaceContent(ctx, doc.ID,
		[]Page{{DocumentID: doc.ID, Number: 1, CleanText: "longer clean", RawText: "short"}}, nil)
	require.Error(t, err)

	// Previous content is untouched
	_, err = s.GetPage(ctx, doc.ID, 2)
	assert.NoError(t, err)
}

func TestSQLiteStore_ReplaceContentDuplicatePageRollsBack(t *testing.T) {
	// Given: a seeded document
	s := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "/docs/a.txt")

	// When: the replacement violates the page primary key halfway through
	err := s.ReplaceContent(ctx, doc.ID, []Page{
		{DocumentID: doc.ID, Number: 1, CleanText: "x", RawText: "x"},
		{DocumentID: doc.ID, Number: 1, CleanText: "y", RawText: "y"},
	}, nil)
	require.Error(t, err)

	// Then: readers still see the old state
	hits, err := s.Search(ctx, CollectionPages, query.Parse("arbitration"), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	chunks, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSQLiteStore_DeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "/docs/a.txt")
	other := seedDocument(t, s, "/docs/b.txt")

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))

	_, err := s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	hits, err := s.Search(ctx, CollectionChunks, query.Parse("grievance"), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, other.ID, hits[0].Ref.DocumentID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 2, st.Pages)
	assert.Equal(t, 2, st.Chunks)
}

func TestSQLiteStore_ExistingRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "/docs/a.txt")

	live := []Ref{
		{Kind: KindPage, DocumentID: doc.ID, Ordinal: 1},
		{Kind: KindChunk, DocumentID: doc.ID, Ordinal: 1},
	}
	stale := []Ref{
		{Kind: KindPage, DocumentID: doc.ID, Ordinal: 9},
		{Kind: KindChunk, DocumentID: 42, Ordinal: 0},
		{Kind: Kind("bogus"), DocumentID: doc.ID, Ordinal: 1},
	}

	found, err := s.ExistingRefs(ctx, append(live, stale...))
	require.NoError(t, err)
	assert.Len(t, found, 2)
	for _, r := range live {
		assert.True(t, found[r], r.String())
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "/docs/a.txt")
	_, err := s.CreateDocument(ctx, "b", "/docs/b.txt")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, doc.ID, StatusIndexed, ""))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, 1, st.ByStatus[StatusIndexed])
	assert.Equal(t, 1, st.ByStatus[StatusPending])
}

// =============================================================================
// Synonyms
// =============================================================================

func TestSQLiteStore_Synonyms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// When: saving, then overwriting one term
	require.NoError(t, s.SaveSynonyms(ctx, []Synonym{
		{Term: "Stipend", Synonyms: []string{"allowance"}},
		{Term: "lieu", Synonyms: []string{"banked time", "comp time"}},
		{Term: "  ", Synonyms: []string{"ignored"}},
	}))
	require.NoError(t, s.SaveSynonyms(ctx, []Synonym{{Term: "stipend", Synonyms: []string{"allowance", "premium"}}}))

	// Then: terms are lowercased and ordered
	list, err := s.ListSynonyms(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "lieu", list[0].Term)
	assert.Equal(t, Synonym{Term: "stipend", Synonyms: []string{"allowance", "premium"}}, list[1])

	// And: deletion works once
	require.NoError(t, s.DeleteSynonym(ctx, "LIEU"))
	assert.ErrorIs(t, s.DeleteSynonym(ctx, "lieu"), ErrNotFound)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casearch.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	doc := seedDocument(t, s, "/docs/a.txt")
	require.NoError(t, s.Checkpoint())
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	hits, err := reopened.Search(context.Background(), CollectionPages, query.Parse("grievance"), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, doc.ID, hits[0].Ref.DocumentID)
}

func TestSQLiteStore_CorruptedFileIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casearch.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database"), 0644))

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetDocument(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Search(context.Background(), CollectionPages, query.Parse("wages"), 10)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIsFTSSyntaxError(t *testing.T) {
	assert.True(t, isFTSSyntaxError(errors.New(`fts5: syntax error near "*"`)))
	assert.False(t, isFTSSyntaxError(errors.New("database is locked")))
}
