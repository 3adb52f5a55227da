package search

import (
	"log/slog"

	"github.com/JCHanratty/CASearch/internal/query"
)

// DefaultMaxExpansions caps the synonyms added per term.
const DefaultMaxExpansions = 6

// QueryExpander attaches synonym expansions to a parsed query. Expansions
// only reach the lexical strategies; semantic search embeds the original
// text.
//
// Example:
//
//	Input:  wages overtime
//	Lexical: (wages* OR pay* OR salary* ...) AND (overtime* OR ot* OR "time and a half" ...)
type QueryExpander struct {
	lookup        SynonymLookup
	maxExpansions int
}

// QueryExpanderOption configures the query expander.
type QueryExpanderOption func(*QueryExpander)

// WithMaxExpansions sets the maximum synonyms per term.
func WithMaxExpansions(n int) QueryExpanderOption {
	return func(e *QueryExpander) {
		if n > 0 {
			e.maxExpansions = n
		}
	}
}

// NewQueryExpander creates an expander over lookup. A nil lookup uses the
// built-in synonym table.
func NewQueryExpander(lookup SynonymLookup, opts ...QueryExpanderOption) *QueryExpander {
	if lookup == nil {
		lookup = NewBuiltinSynonymTable()
	}
	e := &QueryExpander{lookup: lookup, maxExpansions: DefaultMaxExpansions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns a copy of q with Expansions set for every term that has
// synonyms. Phrases are never expanded: a quoted phrase asks for exactly
// those words.
func (e *QueryExpander) Expand(q query.Query) query.Query {
	var expansions map[string][]string
	for _, term := range q.Terms {
		syns := e.lookup.Expand(term)
		if len(syns) == 0 {
			continue
		}
		if len(syns) > e.maxExpansions {
			syns = syns[:e.maxExpansions]
		}
		if expansions == nil {
			expansions = make(map[string][]string)
		}
		expansions[term] = syns
	}

	if expansions != nil {
		slog.Debug("query_expanded",
			slog.String("query", q.Raw),
			slog.Int("expanded_terms", len(expansions)))
	}

	q.Expansions = expansions
	return q
}
