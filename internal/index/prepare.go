package index

import (
	"context"

	"github.com/JCHanratty/CASearch/internal/chunk"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/normalize"
	"github.com/JCHanratty/CASearch/internal/store"
)

// Prepared is a document ready to be written to the stores. DocumentID is
// zero on every page and chunk until the runner assigns it.
type Prepared struct {
	Name   string
	Pages  []store.Page
	Chunks []store.Chunk
}

// Prepare normalizes the pages of src and chunks the clean text. Page
// numbers are 1-based in source order.
func Prepare(ctx context.Context, src *Source, n *normalize.Normalizer, c chunk.Chunker) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := n.NormalizeDocument(src.Pages)

	pages := make([]store.Page, len(normalized))
	input := &chunk.Document{Name: src.Name, Pages: make([]chunk.Page, len(normalized))}
	for i, p := range normalized {
		pages[i] = store.Page{
			Number:    i + 1,
			CleanText: p.Clean,
			RawText:   p.Raw,
		}
		input.Pages[i] = chunk.Page{Number: i + 1, Text: p.Clean}
	}

	chunked, err := c.Chunk(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, caserrors.New(caserrors.ErrCodeChunkingFailed, "failed to chunk document", err).
			WithDetail("document", src.Name)
	}

	chunks := make([]store.Chunk, len(chunked))
	for i, ch := range chunked {
		chunks[i] = store.Chunk{
			Ordinal:       ch.Ordinal,
			Text:          ch.Text,
			Heading:       ch.Heading,
			ParentHeading: ch.ParentHeading,
			SectionNumber: ch.SectionNumber,
			PageStart:     ch.PageStart,
			PageEnd:       ch.PageEnd,
		}
	}

	return &Prepared{Name: src.Name, Pages: pages, Chunks: chunks}, nil
}
