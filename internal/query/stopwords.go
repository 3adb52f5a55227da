package query

// stopwords are dropped from unquoted query text. Inside quoted phrases they
// are kept so that "hours of work" still matches as a phrase.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "how": true, "can": true, "could": true, "would": true,
	"should": true, "do": true, "does": true, "did": true, "have": true,
	"had": true, "this": true, "these": true, "those": true,
	"i": true, "you": true, "we": true, "they": true, "my": true, "your": true,
	"our": true, "their": true,
}

// IsStopword reports whether a lowercase word is a query stopword.
func IsStopword(word string) bool {
	return stopwords[word]
}
