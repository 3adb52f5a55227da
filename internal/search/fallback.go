package search

import (
	"context"
	"log/slog"

	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/store"
)

// LexicalOutcome is the result of SearchWithFallback.
type LexicalOutcome struct {
	Hits []store.LexicalHit

	// Mode is the mode that produced Hits.
	Mode query.Mode

	// FellBack is true when the AND query matched nothing and the OR
	// query was issued.
	FellBack bool
}

// SearchWithFallback runs q against one collection in q's mode. When an AND
// query matches nothing it is re-issued once in OR mode with the same
// document filter. A query with a single phrase or term is not re-issued
// since both modes mean the same thing.
func SearchWithFallback(ctx context.Context, idx store.LexicalIndex, coll store.Collection, q query.Query, limit int) (LexicalOutcome, error) {
	hits, err := idx.Search(ctx, coll, q, limit)
	if err != nil {
		return LexicalOutcome{Mode: q.Mode}, err
	}

	out := LexicalOutcome{Hits: hits, Mode: q.Mode}
	if len(hits) > 0 || q.Mode != query.ModeAnd || len(q.Phrases)+len(q.Terms) < 2 {
		return out, nil
	}

	orQuery := q.WithMode(query.ModeOr)
	hits, err = idx.Search(ctx, coll, orQuery, limit)
	if err != nil {
		return out, err
	}

	slog.Debug("lexical_or_fallback",
		slog.String("collection", string(coll)),
		slog.Int64("document_id", q.DocumentID),
		slog.Int("hits", len(hits)))

	return LexicalOutcome{Hits: hits, Mode: query.ModeOr, FellBack: true}, nil
}
