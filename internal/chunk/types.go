// Package chunk splits agreement text into structure-aware chunks. Chunks
// break at ARTICLE and SECTION style headings so each one holds a clause
// with its heading, parent heading, section number and page range.
package chunk

import (
	"context"
)

// Chunk size defaults, in characters.
const (
	DefaultMaxChunkChars = 2000 // Force a boundary once a chunk reaches this size
	DefaultMinChunkChars = 200  // A heading only starts a new chunk past this size
	DefaultOverlapChars  = 200  // Tail of the previous chunk prepended to the next
)

// Page is one page of input text. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Document is the input to a Chunker.
type Document struct {
	Name  string
	Pages []Page
}

// Chunk is a retrievable slice of a document.
type Chunk struct {
	Ordinal       int    // 0-based, in document order
	Text          string // Content, prefixed with the overlap from the previous chunk
	Heading       string // Nearest heading at or above the chunk start
	ParentHeading string // Enclosing level-1 heading of a level-2 Heading
	SectionNumber string // "14", "7.01", "XII"
	PageStart     int
	PageEnd       int
	Headings      []string // Level 1 and 2 headings that begin inside the chunk
}

// Chunker splits documents into chunks.
type Chunker interface {
	// Chunk splits a document into chunks ordered by position
	Chunk(ctx context.Context, doc *Document) ([]*Chunk, error)
}

// HeadingKind is the pattern family a heading matched.
type HeadingKind string

const (
	HeadingArticle  HeadingKind = "article"
	HeadingSection  HeadingKind = "section"
	HeadingNumbered HeadingKind = "numbered"
	HeadingRoman    HeadingKind = "roman"
	HeadingLettered HeadingKind = "lettered"
	HeadingAppendix HeadingKind = "appendix"
	HeadingLetter   HeadingKind = "letter"
	HeadingCaps     HeadingKind = "caps"
	HeadingKeyword  HeadingKind = "keyword"
)

// Heading is a detected heading line.
type Heading struct {
	// Level 1 is an article or schedule, 2 a section, 3 a lettered item.
	// Only levels 1 and 2 start new chunks.
	Level int
	Kind  HeadingKind
	Text  string
	Page  int
	Line  int // 1-based within the page
}
