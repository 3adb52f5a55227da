package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

// maxHeadingChars is the longest line treated as a chunk heading.
const maxHeadingChars = 100

type headingPattern struct {
	re    *regexp.Regexp
	level int
	kind  HeadingKind
}

// headingPatterns are tried in order; the first match wins.
var headingPatterns = []headingPattern{
	{regexp.MustCompile(`(?i)^(?:article\s+|art\.?\s*)([ivxlcdm]+|\d+)\b[:\s]*[-–—]?\s*(.*)$`), 1, HeadingArticle},
	{regexp.MustCompile(`(?i)^(?:section\s+|sec\.?\s*)(\d+(?:\.\d+)*)\b[:\s]*[-–—]?\s*(.*)$`), 2, HeadingSection},
	{regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)\s+(\S.*)$`), 2, HeadingNumbered},
	{regexp.MustCompile(`(?i)^(?:schedule|appendix|exhibit)\s+([a-z]|\d+)\b[:\s]*[-–—]?\s*(.*)$`), 1, HeadingAppendix},
	{regexp.MustCompile(`(?i)^letter\s+of\s+(?:understanding|agreement)\b`), 1, HeadingLetter},
	{regexp.MustCompile(`^([IVXLCDM]+)\.\s+(.+)$`), 2, HeadingRoman},
	{regexp.MustCompile(`^\(([a-zA-Z]|[ivx]+)\)\s+(.{10,})$`), 3, HeadingLettered},
	{regexp.MustCompile(`^([a-zA-Z])[.)]\s+(.{10,})$`), 3, HeadingLettered},
}

// capsPattern matches short all-capital lines. It is tried after the
// keywords so that PREAMBLE and DEFINITIONS keep level 1.
var capsPattern = regexp.MustCompile(`^[A-Z][A-Z\s]{4,50}$`)

// headingKeywords are standard agreement headings recognized when a line is
// written in capitals, even without a number.
var headingKeywords = []string{
	"PREAMBLE", "DEFINITIONS", "RECOGNITION", "MANAGEMENT RIGHTS",
	"UNION SECURITY", "GRIEVANCE", "ARBITRATION", "DISCIPLINE",
	"SENIORITY", "LAYOFF", "RECALL", "HOURS OF WORK", "OVERTIME",
	"HOLIDAYS", "VACATION", "SICK LEAVE", "LEAVE OF ABSENCE",
	"BENEFITS", "INSURANCE", "PENSION", "WAGES", "SALARIES",
	"CLASSIFICATIONS", "PROBATION", "TRAINING", "SAFETY", "HEALTH",
	"DURATION", "TERMINATION", "GENERAL PROVISIONS",
	"LETTER OF UNDERSTANDING", "MEMORANDUM",
}

// DetectHeading reports whether line is a heading and classifies it. Page
// and Line of the result are left zero.
func DetectHeading(line string) (Heading, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 3 || len(line) > maxHeadingChars {
		return Heading{}, false
	}

	for _, p := range headingPatterns {
		if p.re.MatchString(line) {
			return Heading{Level: p.level, Kind: p.kind, Text: line}, true
		}
	}

	// Keywords only count in capitals so that "Overtime shall be paid..."
	// stays body text.
	if line != strings.ToUpper(line) {
		return Heading{}, false
	}
	for _, kw := range headingKeywords {
		if line == kw || strings.HasPrefix(line, kw+" ") {
			level := 2
			if kw == "PREAMBLE" || kw == "DEFINITIONS" {
				level = 1
			}
			return Heading{Level: level, Kind: HeadingKeyword, Text: line}, true
		}
	}
	if capsPattern.MatchString(line) {
		return Heading{Level: 2, Kind: HeadingCaps, Text: line}, true
	}
	return Heading{}, false
}

var sectionNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\barticle\s+([ivxlcdm]+|\d+)\b`),
	regexp.MustCompile(`(?i)\bsection\s+(\d+(?:\.\d+)*)`),
	regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)^(?:schedule|appendix|exhibit)\s+([a-z]|\d+)\b`),
}

// SectionNumber extracts the article or section number from a heading,
// or returns "".
func SectionNumber(heading string) string {
	for _, re := range sectionNumberPatterns {
		if m := re.FindStringSubmatch(heading); m != nil {
			return m[1]
		}
	}
	return ""
}

// headingLineWindow is how many leading lines of a page may be treated as
// headings on the strength of a number, dash or colon alone.
const headingLineWindow = 10

// HeadingLines returns the lines of a page that look like headings: lines
// starting with "article" or "section", lines that are mostly capitals, and
// short numbered or dashed lines near the top of the page. It is looser
// than DetectHeading and is used to match queries against page headings.
func HeadingLines(text string) []string {
	var out []string
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && isHeadingLine(line, i) {
			out = append(out, line)
		}
	}
	return out
}

func isHeadingLine(line string, index int) bool {
	lower := strings.ToLower(line)
	if strings.HasPrefix(lower, "article") || strings.HasPrefix(lower, "section") {
		return true
	}

	var letters, upper int
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 0 && upper*10 >= letters*6 {
		return true
	}

	return index < headingLineWindow && len(line) < 120 && strings.ContainsAny(line, "0123456789-—:")
}
