// Package store provides document persistence (SQLite), the lexical indexes
// (SQLite FTS5 and Bleve) and the vector store (HNSW).
// This is the persistence layer for all indexed data.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JCHanratty/CASearch/internal/query"
)

// ErrNotFound is returned when a document, page or chunk does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusIndexing DocumentStatus = "indexing"
	StatusIndexed  DocumentStatus = "indexed"
	StatusError    DocumentStatus = "error"
)

// Document is a source document registered for indexing.
type Document struct {
	ID        int64          // Assigned by the store
	Name      string         // Display name
	Path      string         // Source path, unique
	Status    DocumentStatus // pending -> indexing -> indexed, or error
	Error     string         // Set when Status is error
	PageCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is one page of a document. CleanText is what the lexical index sees;
// RawText keeps the repeated headers and footers that cleaning removed.
type Page struct {
	DocumentID int64
	Number     int // 1-based, unique per document
	CleanText  string
	RawText    string
}

// Chunk is a structure-aware slice of a document. PageStart and PageEnd are
// informational and not enforced against the pages table.
type Chunk struct {
	DocumentID    int64
	Ordinal       int // 0-based, unique per document
	Text          string
	Heading       string
	ParentHeading string
	SectionNumber string
	PageStart     int
	PageEnd       int
}

// Ref returns the reference for this chunk.
func (c Chunk) Ref() Ref {
	return Ref{Kind: KindChunk, DocumentID: c.DocumentID, Ordinal: c.Ordinal}
}

// Ref returns the reference for this page.
func (p Page) Ref() Ref {
	return Ref{Kind: KindPage, DocumentID: p.DocumentID, Ordinal: p.Number}
}

// ============================================================================
// References
// ============================================================================

// Kind distinguishes page references from chunk references.
type Kind string

const (
	KindPage  Kind = "page"
	KindChunk Kind = "chunk"
)

// Ref identifies a page or chunk. Ordinal is the page number for pages and
// the chunk ordinal for chunks.
type Ref struct {
	Kind       Kind
	DocumentID int64
	Ordinal    int
}

// String returns the canonical form, for example "page:12:3". Vector store
// keys use this form.
func (r Ref) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.DocumentID, 10) + ":" + strconv.Itoa(r.Ordinal)
}

// Less orders refs by document id, then pages before chunks, then ordinal.
func (r Ref) Less(o Ref) bool {
	if r.DocumentID != o.DocumentID {
		return r.DocumentID < o.DocumentID
	}
	if r.Kind != o.Kind {
		return r.Kind == KindPage
	}
	return r.Ordinal < o.Ordinal
}

// ParseRef parses the canonical string form of a Ref.
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("invalid ref %q", s)
	}
	kind := Kind(parts[0])
	if kind != KindPage && kind != KindChunk {
		return Ref{}, fmt.Errorf("invalid ref kind %q", parts[0])
	}
	docID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid ref document id %q: %w", parts[1], err)
	}
	ordinal, err := strconv.Atoi(parts[2])
	if err != nil {
		return Ref{}, fmt.Errorf("invalid ref ordinal %q: %w", parts[2], err)
	}
	return Ref{Kind: kind, DocumentID: docID, Ordinal: ordinal}, nil
}

// ============================================================================
// Document store
// ============================================================================

// Stats summarizes store contents for `casearch status`.
type Stats struct {
	Documents int
	Pages     int
	Chunks    int
	ByStatus  map[DocumentStatus]int
}

// Synonym is a user-defined synonym group persisted in the store.
type Synonym struct {
	Term     string
	Synonyms []string
}

// DocumentStore persists documents, pages and chunks.
type DocumentStore interface {
	// Document operations
	CreateDocument(ctx context.Context, name, path string) (*Document, error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	FindDocumentByPath(ctx context.Context, path string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	SetStatus(ctx context.Context, id int64, status DocumentStatus, errMsg string) error
	RenameDocument(ctx context.Context, id int64, name string) error
	DeleteDocument(ctx context.Context, id int64) error

	// ReplaceContent swaps a document's pages and chunks in one transaction.
	// Readers see either the old content or the new content, never a mix.
	ReplaceContent(ctx context.Context, id int64, pages []Page, chunks []Chunk) error

	// Content lookups
	GetPage(ctx context.Context, documentID int64, number int) (*Page, error)
	GetChunk(ctx context.Context, documentID int64, ordinal int) (*Chunk, error)
	ListChunks(ctx context.Context, documentID int64) ([]*Chunk, error)

	// ExistingRefs returns the subset of refs still present in the store.
	ExistingRefs(ctx context.Context, refs []Ref) (map[Ref]bool, error)

	Stats(ctx context.Context) (*Stats, error)

	// Custom synonyms
	ListSynonyms(ctx context.Context) ([]Synonym, error)
	SaveSynonyms(ctx context.Context, synonyms []Synonym) error
	DeleteSynonym(ctx context.Context, term string) error

	Close() error
}

// ============================================================================
// Lexical index
// ============================================================================

// Collection selects which unit a lexical search runs over.
type Collection string

const (
	CollectionPages  Collection = "pages"
	CollectionChunks Collection = "chunks"
)

// LexicalHit is one ranked lexical match. Score is positive, higher is better.
type LexicalHit struct {
	Ref     Ref
	Score   float64
	Snippet string
}

// LexicalIndex provides keyword search over pages or chunks.
type LexicalIndex interface {
	// Search returns hits for q in rank order. The document filter on q
	// scopes the search. An empty query or an unparseable expression
	// returns no hits and no error.
	Search(ctx context.Context, coll Collection, q query.Query, limit int) ([]LexicalHit, error)

	// Count returns the number of indexed units in a collection.
	Count(ctx context.Context, coll Collection) (int, error)

	Close() error
}

// LexicalWriter is implemented by lexical indexes that are maintained
// separately from the document store.
type LexicalWriter interface {
	IndexDocument(ctx context.Context, documentID int64, pages []Page, chunks []Chunk) error
	DeleteDocument(ctx context.Context, documentID int64) error
}

// ============================================================================
// Vector store
// ============================================================================

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Ref string
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorFilter reports whether a vector id may appear in results.
type VectorFilter func(id string) bool

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides similarity search over chunk embeddings.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors accepted by filter. A nil filter
	// accepts everything.
	Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store.
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors. Must be O(1).
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// DocumentFilter returns a VectorFilter that accepts only refs belonging to
// documentID. A zero documentID returns nil.
func DocumentFilter(documentID int64) VectorFilter {
	if documentID == 0 {
		return nil
	}
	prefix := ":" + strconv.FormatInt(documentID, 10) + ":"
	return func(id string) bool {
		return strings.Contains(id, prefix)
	}
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'casearch index --force')", e.Expected, e.Got)
}
