package normalize

import (
	"strings"
	"unicode"
)

// Rejoiner repairs words that text extraction split apart with a stray space.
//
// Two shapes are handled:
//
//	orphan letter:   "member s of"  -> "members of"
//	broken fragment: "pe rform"     -> "perform"
//
// This is a heuristic and it is lossy in both directions. Known false
// positives: a genuine single-letter token after a lowercase word that is not
// listed in ShortWords or guarded by StructuralLabels ("item b of" when
// "item" is not a label). Known false negatives: splits whose continuation
// starts uppercase, splits of three or more letters ("emp loyee"), and
// fragments that happen to be real short words ("in cluded"). The word lists
// are exported so callers can tune it for a corpus.
type Rejoiner struct {
	// ShortWords are lowercase tokens of one or two letters that are real
	// words or abbreviations and must never be merged.
	ShortWords map[string]bool

	// StructuralLabels are words after which a single letter is a list
	// marker ("section b"), not a detached suffix.
	StructuralLabels map[string]bool

	// MinContinuation is the minimum length of the lowercase token that a
	// broken fragment is merged into.
	MinContinuation int

	// MergeFragments enables the two-letter fragment rule. The orphan
	// letter rule is always on.
	MergeFragments bool
}

// defaultShortWords lists legitimate one and two letter tokens.
var defaultShortWords = []string{
	"a", "i",
	"ad", "am", "an", "as", "at", "be", "by", "cm", "co", "do", "dr", "eg",
	"ex", "ft", "go", "he", "hr", "id", "ie", "if", "in", "is", "it", "kg",
	"km", "lb", "me", "mm", "mr", "ms", "my", "nd", "no", "of", "oh", "ok",
	"on", "or", "ot", "oz", "pm", "rd", "re", "so", "st", "th", "to", "up",
	"us", "vs", "we",
}

// defaultStructuralLabels lists words commonly followed by a letter marker.
var defaultStructuralLabels = []string{
	"appendix", "article", "clause", "class", "grade", "group", "item",
	"letter", "level", "option", "paragraph", "part", "plan", "schedule",
	"section", "step", "subsection", "type",
}

// NewRejoiner returns a Rejoiner with the default word lists.
func NewRejoiner() *Rejoiner {
	return &Rejoiner{
		ShortWords:       toSet(defaultShortWords),
		StructuralLabels: toSet(defaultStructuralLabels),
		MinContinuation:  3,
		MergeFragments:   true,
	}
}

// Rejoin repairs split words on every line of text. Line structure is kept;
// whitespace inside each line is collapsed to single spaces.
func (r *Rejoiner) Rejoin(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = r.RejoinLine(line)
	}
	return strings.Join(lines, "\n")
}

// RejoinLine repairs split words within a single line.
func (r *Rejoiner) RejoinLine(line string) string {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return strings.Join(tokens, " ")
	}

	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		var next string
		if i+1 < len(tokens) {
			next = tokens[i+1]
		}

		if r.isOrphanLetter(out, tok, next) {
			out[len(out)-1] += tok
			continue
		}

		if r.MergeFragments && r.isBrokenFragment(tok, next) {
			out = append(out, tok+next)
			i++
			continue
		}

		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// isOrphanLetter reports whether tok is a lone lowercase letter that belongs
// to the end of the previous word. The next token must start lowercase so a
// merge never leaves a letter dangling before uppercase text or end of line.
func (r *Rejoiner) isOrphanLetter(out []string, tok, next string) bool {
	if len(out) == 0 || next == "" {
		return false
	}
	if !isLowerAlpha(tok) || len([]rune(tok)) != 1 || r.ShortWords[tok] {
		return false
	}
	if !startsLower(next) {
		return false
	}

	prev := out[len(out)-1]
	if len([]rune(prev)) < 2 || !isAlpha(prev) || !endsLower(prev) {
		return false
	}
	return !r.StructuralLabels[strings.ToLower(prev)]
}

// isBrokenFragment reports whether tok is a two-letter lowercase fragment
// that is not a known short word and is followed by its continuation.
func (r *Rejoiner) isBrokenFragment(tok, next string) bool {
	if next == "" || len([]rune(tok)) != 2 || !isLowerAlpha(tok) || r.ShortWords[tok] {
		return false
	}
	return isLowerAlpha(next) && len([]rune(next)) >= r.MinContinuation
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

func isLowerAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return s != ""
}

func startsLower(s string) bool {
	for _, r := range s {
		return unicode.IsLower(r)
	}
	return false
}

func endsLower(s string) bool {
	runes := []rune(s)
	return len(runes) > 0 && unicode.IsLower(runes[len(runes)-1])
}
