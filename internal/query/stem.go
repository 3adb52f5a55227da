package query

import (
	"strings"

	"github.com/kljensen/snowball"
)

// Stem reduces an English word to its snowball stem. Words the stemmer
// rejects are returned unchanged.
func Stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

// Tokenize splits text into lowercase word tokens in reading order. Stopwords
// are kept so token positions reflect the original text.
func Tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// TokenMatches reports whether a text token satisfies a query word. A token
// matches when the word is a prefix of it (the lexical index matches terms
// as prefixes) or when both share a stem.
func TokenMatches(token, word string) bool {
	if strings.HasPrefix(token, word) {
		return true
	}
	return Stem(token) == Stem(word)
}

// WordSpans returns the byte offsets of every word token in text, using the
// same word boundaries as Tokenize.
func WordSpans(text string) [][]int {
	return wordPattern.FindAllStringIndex(text, -1)
}
