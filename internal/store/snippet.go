package store

import (
	"strings"

	"github.com/JCHanratty/CASearch/internal/query"
)

// Snippet builds a short excerpt of text around the first token matching one
// of words, with matching tokens wrapped in [ and ]. width is the number of
// tokens kept. With no match the excerpt is the start of the text.
func Snippet(text string, words []string, width int) string {
	spans := query.WordSpans(text)
	if len(spans) == 0 || width <= 0 {
		return ""
	}

	matches := func(i int) bool {
		token := strings.ToLower(text[spans[i][0]:spans[i][1]])
		for _, w := range words {
			if query.TokenMatches(token, w) {
				return true
			}
		}
		return false
	}

	first := -1
	for i := range spans {
		if matches(i) {
			first = i
			break
		}
	}

	start := 0
	if first > width/4 {
		start = first - width/4
	}
	end := start + width
	if end > len(spans) {
		end = len(spans)
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	prev := spans[start][0]
	for i := start; i < end; i++ {
		b.WriteString(text[prev:spans[i][0]])
		token := text[spans[i][0]:spans[i][1]]
		if len(words) > 0 && matches(i) {
			b.WriteString("[" + token + "]")
		} else {
			b.WriteString(token)
		}
		prev = spans[i][1]
	}
	if end < len(spans) {
		b.WriteString("...")
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
