package query

import (
	"strings"
)

// BuildLexicalQuery renders q as an SQLite FTS5 MATCH expression.
//
// Phrases become "exact phrase" operators and terms become prefix queries
// (term*). A term with synonym expansions becomes a parenthesized OR group
// of the term and its synonyms; multi-word synonyms are emitted as phrases.
// AND mode joins the parts with AND, OR mode with OR. Returns "" for an empty
// query.
//
// The document filter is not part of the expression. Indexes apply it as a
// scope so it never changes which terms are required.
func BuildLexicalQuery(q Query) string {
	parts := make([]string, 0, len(q.Phrases)+len(q.Terms))

	for _, phrase := range q.Phrases {
		if p := cleanPhrase(phrase); p != "" {
			parts = append(parts, quote(p))
		}
	}

	for _, term := range q.Terms {
		if part := termExpr(term, q.Expansions[term]); part != "" {
			parts = append(parts, part)
		}
	}

	if len(parts) == 0 {
		return ""
	}

	op := " AND "
	if q.Mode == ModeOr {
		op = " OR "
	}
	return strings.Join(parts, op)
}

// termExpr renders a term and its synonyms.
func termExpr(term string, synonyms []string) string {
	term = cleanPhrase(term)
	if term == "" {
		return ""
	}

	alts := []string{prefix(term)}
	seen := map[string]bool{term: true}
	for _, syn := range synonyms {
		syn = cleanPhrase(syn)
		if syn == "" || seen[syn] {
			continue
		}
		seen[syn] = true
		alts = append(alts, prefix(syn))
	}

	if len(alts) == 1 {
		return alts[0]
	}
	return "(" + strings.Join(alts, " OR ") + ")"
}

// prefix renders a single word as a prefix query and anything longer as a
// phrase. FTS5 does not accept a quoted token followed by *.
func prefix(s string) string {
	if strings.Contains(s, " ") {
		return quote(s)
	}
	return s + "*"
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
