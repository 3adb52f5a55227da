// Package query parses user query strings and builds lexical index queries.
package query

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Mode controls how phrases and terms combine in a lexical query.
type Mode string

const (
	// ModeAnd requires every phrase and every term to match.
	ModeAnd Mode = "and"
	// ModeOr requires any phrase or term to match.
	ModeOr Mode = "or"
)

// ParseMode converts a string to a Mode. Anything other than "or"
// (case-insensitive) is AND.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeOr)) {
		return ModeOr
	}
	return ModeAnd
}

// Query is a parsed search query. It is transient and never persisted.
type Query struct {
	// Raw is the query string as typed.
	Raw string

	// Phrases are the quoted spans, case-folded, in input order.
	Phrases []string

	// Terms are the unquoted words, case-folded, stopword-filtered and
	// de-duplicated, in input order.
	Terms []string

	// Mode is AND or OR.
	Mode Mode

	// DocumentID narrows the search to one document. Zero means all.
	DocumentID int64

	// Expansions maps a term to its synonyms. Only lexical strategies
	// use it.
	Expansions map[string][]string
}

var (
	phrasePattern = regexp.MustCompile(`"([^"]*)"`)
	wordPattern   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// Parse splits a raw query into phrases and terms. Empty input yields an
// empty Query in AND mode.
func Parse(raw string) Query {
	q := Query{Raw: raw, Mode: ModeAnd}

	for _, m := range phrasePattern.FindAllStringSubmatch(raw, -1) {
		if phrase := cleanPhrase(m[1]); phrase != "" {
			q.Phrases = append(q.Phrases, phrase)
		}
	}

	remaining := phrasePattern.ReplaceAllString(raw, " ")
	seen := make(map[string]bool)
	for _, word := range wordPattern.FindAllString(strings.ToLower(remaining), -1) {
		if utf8.RuneCountInString(word) < 2 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		q.Terms = append(q.Terms, word)
	}

	return q
}

// cleanPhrase case-folds a phrase and reduces it to word tokens separated by
// single spaces. Stopwords are kept.
func cleanPhrase(s string) string {
	return strings.Join(wordPattern.FindAllString(strings.ToLower(s), -1), " ")
}

// IsEmpty reports whether the query has nothing to search for. An empty
// query matches nothing, never everything.
func (q Query) IsEmpty() bool {
	return len(q.Phrases) == 0 && len(q.Terms) == 0
}

// WithMode returns a copy of q using mode m.
func (q Query) WithMode(m Mode) Query {
	q.Mode = m
	return q
}

// WithoutExpansions returns a copy of q with synonym expansions removed.
func (q Query) WithoutExpansions() Query {
	q.Expansions = nil
	return q
}

// Text returns the phrases and terms as a single string, used as input to
// the embedding model. Falls back to the trimmed raw text.
func (q Query) Text() string {
	parts := make([]string, 0, len(q.Phrases)+len(q.Terms))
	parts = append(parts, q.Phrases...)
	parts = append(parts, q.Terms...)
	if len(parts) == 0 {
		return strings.TrimSpace(q.Raw)
	}
	return strings.Join(parts, " ")
}

// Words returns every distinct word that appears in the phrases and terms,
// in order of first appearance.
func (q Query) Words() []string {
	seen := make(map[string]bool)
	var words []string
	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	for _, p := range q.Phrases {
		for _, w := range strings.Fields(p) {
			add(w)
		}
	}
	for _, t := range q.Terms {
		add(t)
	}
	return words
}
