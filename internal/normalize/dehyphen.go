package normalize

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// hyphenBreak matches a word fragment, a line-terminal hyphen, a line break
// and the continuation fragment. Trailing blanks around the break are allowed
// because extractors often leave them behind.
var hyphenBreak = regexp.MustCompile(`(\w+)-[ \t]*\n[ \t]*(\w+)`)

// Dehyphenate joins words split across a line break by a hyphen.
//
// "bene-\nfits" becomes "benefits". When the continuation starts with an
// uppercase letter or a digit the hyphen and the line break are kept, since
// that is usually a genuine compound ("Part-\nTime") or a new line of text.
func Dehyphenate(text string) string {
	return hyphenBreak.ReplaceAllStringFunc(text, func(m string) string {
		parts := hyphenBreak.FindStringSubmatch(m)
		first, second := parts[1], parts[2]

		r, _ := utf8.DecodeRuneInString(second)
		if unicode.IsLower(r) {
			return first + second
		}
		return first + "-\n" + second
	})
}
