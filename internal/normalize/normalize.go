package normalize

import (
	"strings"
	"unicode"
)

// Page is the normalized form of one page of extracted text.
type Page struct {
	// Clean is the text used for lexical indexing. Repeated headers and
	// footers are removed.
	Clean string

	// Raw is the normalized text with every line kept. Clean is always
	// derivable from Raw by line removal.
	Raw string
}

// Normalizer runs the normalization pipeline.
type Normalizer struct {
	rejoiner      *Rejoiner
	stripHeaders  bool
	threshold     float64
	minPages      int
	minLineLength int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRejoiner replaces the split-word heuristic. Passing nil disables it.
func WithRejoiner(r *Rejoiner) Option {
	return func(n *Normalizer) {
		n.rejoiner = r
	}
}

// WithHeaderStripping enables or disables header/footer removal.
func WithHeaderStripping(enabled bool) Option {
	return func(n *Normalizer) {
		n.stripHeaders = enabled
	}
}

// WithRepeatThreshold sets the page fraction above which a line is a header.
// Values outside (0, 1] are ignored.
func WithRepeatThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		if threshold > 0 && threshold <= 1 {
			n.threshold = threshold
		}
	}
}

// WithMinPages sets the minimum document size for header detection.
func WithMinPages(pages int) Option {
	return func(n *Normalizer) {
		if pages > 0 {
			n.minPages = pages
		}
	}
}

// New creates a Normalizer with default settings.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		rejoiner:      NewRejoiner(),
		stripHeaders:  true,
		threshold:     DefaultRepeatThreshold,
		minPages:      DefaultMinPages,
		minLineLength: DefaultMinLineLength,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = New()

// Normalize cleans a single page. A lone page carries no cross-page signal,
// so Clean and Raw are identical.
func Normalize(text string) (clean, raw string) {
	raw = defaultNormalizer.NormalizeText(text)
	return raw, raw
}

// NormalizeDocument cleans every page of a document with the default settings.
func NormalizeDocument(pages []string) []Page {
	return defaultNormalizer.NormalizeDocument(pages)
}

// NormalizeText runs the per-page stages: dehyphenation, rejoin and
// whitespace normalization.
func (n *Normalizer) NormalizeText(text string) string {
	if text == "" {
		return ""
	}

	text = sanitize(text)
	text = Dehyphenate(text)
	if n.rejoiner != nil {
		text = n.rejoiner.Rejoin(text)
	}
	return CollapseWhitespace(text)
}

// NormalizeDocument normalizes every page and strips lines that repeat across
// enough pages. Output has one entry per input page, in order.
func (n *Normalizer) NormalizeDocument(pages []string) []Page {
	out := make([]Page, len(pages))
	raws := make([]string, len(pages))
	for i, p := range pages {
		raws[i] = n.NormalizeText(p)
	}

	var repeated map[string]bool
	if n.stripHeaders {
		repeated = DetectRepeatedLines(raws, n.threshold, n.minPages, n.minLineLength)
	}

	for i, raw := range raws {
		out[i] = Page{
			Clean: RemoveLines(raw, repeated),
			Raw:   raw,
		}
	}
	return out
}

// CollapseWhitespace converts every line ending to "\n", collapses runs of
// blanks inside a line to one space and drops empty lines.
func CollapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// sanitize repairs invalid UTF-8, canonicalizes line endings and turns
// control characters other than newline and tab into spaces.
func sanitize(text string) string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\f' || r == '\v':
			return '\n'
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, text)
}
