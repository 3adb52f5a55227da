package search

import (
	"strings"

	"github.com/JCHanratty/CASearch/internal/chunk"
	"github.com/JCHanratty/CASearch/internal/query"
)

// Passage is the text the re-ranker inspects for one ref. Heading is set for
// chunks; pages have their heading lines detected from Text.
type Passage struct {
	Text    string
	Heading string
}

// matchAnalysis describes how a passage matches a query.
type matchAnalysis struct {
	// phrases is the number of query phrases found verbatim
	phrases int

	// matched is the number of distinct query words found; span is the
	// token distance of the tightest window containing all of them
	matched int
	span    int

	heading bool
}

func (m matchAnalysis) exactPhrase() bool {
	return m.phrases > 0
}

// termMatcher caches stems while scanning one passage.
type termMatcher struct {
	words []string
	stems []string
}

func newTermMatcher(words []string) *termMatcher {
	m := &termMatcher{words: words, stems: make([]string, len(words))}
	for i, w := range words {
		m.stems[i] = query.Stem(w)
	}
	return m
}

// match returns the index of the first word token satisfies, or -1. A
// token matches a word it starts with or shares a snowball stem with.
func (m *termMatcher) match(token string) int {
	var stem string
	for i, w := range m.words {
		if strings.HasPrefix(token, w) {
			return i
		}
		// Stems keep the first letter, so skip stemming on a mismatch.
		if token == "" || w == "" || token[0] != w[0] {
			continue
		}
		if stem == "" {
			stem = query.Stem(token)
		}
		if stem == m.stems[i] {
			return i
		}
	}
	return -1
}

// analyzePassage measures phrase presence, term proximity and heading match
// of a passage against q.
func analyzePassage(p Passage, q query.Query) matchAnalysis {
	var a matchAnalysis
	tokens := query.Tokenize(p.Text)

	for _, phrase := range q.Phrases {
		if containsSequence(tokens, strings.Fields(phrase)) {
			a.phrases++
		}
	}
	// Without quotes, the terms in query order count as the phrase.
	if len(q.Phrases) == 0 && len(q.Terms) >= 2 && containsTermRun(tokens, q.Terms) {
		a.phrases++
	}

	a.matched, a.span = minimumSpan(tokens, newTermMatcher(contentWords(q)))
	a.heading = headingMatches(p, q)
	return a
}

// contentWords returns the query words that carry meaning, dropping the
// stopwords that phrases keep.
func contentWords(q query.Query) []string {
	var out []string
	for _, w := range q.Words() {
		if !query.IsStopword(w) {
			out = append(out, w)
		}
	}
	return out
}

// containsSequence reports whether seq occurs as consecutive tokens.
func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(tokens) {
		return false
	}
	for i := 0; i+len(seq) <= len(tokens); i++ {
		ok := true
		for j, s := range seq {
			if tokens[i+j] != s {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// containsTermRun reports whether the terms occur in order as consecutive
// tokens, each token matching its term by prefix or stem. Stopwords between
// terms are allowed since the parser dropped them.
func containsTermRun(tokens, terms []string) bool {
	matchers := make([]*termMatcher, len(terms))
	for i, t := range terms {
		matchers[i] = newTermMatcher([]string{t})
	}
	for start := range tokens {
		if matchers[0].match(tokens[start]) < 0 {
			continue
		}
		pos, next := start+1, 1
		for next < len(terms) && pos < len(tokens) {
			switch {
			case matchers[next].match(tokens[pos]) == 0:
				next++
			case !query.IsStopword(tokens[pos]):
				pos = len(tokens)
				continue
			}
			pos++
		}
		if next == len(terms) {
			return true
		}
	}
	return false
}

// minimumSpan returns how many distinct words occur in tokens and the
// smallest distance between the first and last token of a window that
// contains every one of them.
func minimumSpan(tokens []string, m *termMatcher) (matched, span int) {
	type occurrence struct{ pos, word int }
	var occ []occurrence
	present := make([]bool, len(m.words))
	for pos, tok := range tokens {
		if w := m.match(tok); w >= 0 {
			occ = append(occ, occurrence{pos, w})
			if !present[w] {
				present[w] = true
				matched++
			}
		}
	}
	if matched < 2 {
		return matched, 0
	}

	counts := make([]int, len(m.words))
	covered := 0
	best := -1
	left := 0
	for right := range occ {
		if counts[occ[right].word] == 0 {
			covered++
		}
		counts[occ[right].word]++

		for covered == matched {
			if d := occ[right].pos - occ[left].pos; best < 0 || d < best {
				best = d
			}
			counts[occ[left].word]--
			if counts[occ[left].word] == 0 {
				covered--
			}
			left++
		}
	}
	return matched, best
}

// headingMatches reports whether a heading of the passage contains a query
// phrase or at least half of the query terms.
func headingMatches(p Passage, q query.Query) bool {
	headings := chunk.HeadingLines(p.Text)
	if p.Heading != "" {
		headings = append([]string{p.Heading}, headings...)
	}
	if len(headings) == 0 {
		return false
	}

	m := newTermMatcher(q.Terms)
	for _, h := range headings {
		tokens := query.Tokenize(h)
		for _, phrase := range q.Phrases {
			if containsSequence(tokens, strings.Fields(phrase)) {
				return true
			}
		}
		if len(q.Terms) == 0 {
			continue
		}
		found := make(map[int]bool)
		for _, tok := range tokens {
			if w := m.match(tok); w >= 0 {
				found[w] = true
			}
		}
		if len(found) > 0 && len(found)*2 >= len(q.Terms) {
			return true
		}
	}
	return false
}

// boost computes the re-ranking bonus for one passage. Phrase and proximity
// boosts need lexical support; the raw-score fallback applies when neither
// fires.
func (c RerankConfig) boost(a matchAnalysis, q query.Query, lexical bool, rawScore float64) float64 {
	var b float64
	if a.heading {
		b += c.HeadingBoost
	}
	if !lexical {
		return b
	}

	switch {
	case a.exactPhrase():
		parts := len(q.Phrases)
		if parts == 0 {
			parts = 1
		}
		b += c.PhraseBoost * float64(a.phrases) / float64(parts)
	case a.matched >= 2:
		b += c.ProximityBoost / float64(1+a.span-(a.matched-1))
	case rawScore > 0:
		b += c.RawScoreBoost * rawScore / (1 + rawScore)
	}
	return b
}
