package normalize

import (
	"regexp"
	"strings"
)

// Header/footer detection defaults.
const (
	// DefaultRepeatThreshold is the fraction of pages a line must appear on
	// to be treated as a running header or footer.
	DefaultRepeatThreshold = 0.6

	// DefaultMinPages is the minimum page count for detection. Fewer pages
	// give no reliable signal.
	DefaultMinPages = 3

	// DefaultMinLineLength ignores very short lines such as bare page numbers
	// split from their context.
	DefaultMinLineLength = 3
)

// structuralMarker matches lines that open a structural unit. Such lines are
// never stripped even when they repeat (continued article headings do).
var structuralMarker = regexp.MustCompile(`(?i)^(?:article|section|schedule|appendix|part)\s+(?:\d+(?:\.\d+)*|[ivxlc]+|[a-z])\b`)

// IsStructuralMarker reports whether line starts with an article, section,
// schedule, appendix or part label.
func IsStructuralMarker(line string) bool {
	return structuralMarker.MatchString(strings.TrimSpace(line))
}

// DetectRepeatedLines returns the set of lines that occur on at least
// threshold of the given pages. Pages must already be whitespace-normalized.
// A line counts once per page no matter how often it repeats on that page.
// Returns an empty set when there are fewer than minPages pages.
func DetectRepeatedLines(pages []string, threshold float64, minPages, minLineLength int) map[string]bool {
	repeated := make(map[string]bool)
	if len(pages) == 0 || len(pages) < minPages {
		return repeated
	}

	counts := make(map[string]int)
	for _, page := range pages {
		seen := make(map[string]bool)
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(line)
			if len(line) < minLineLength || seen[line] {
				continue
			}
			seen[line] = true
			counts[line]++
		}
	}

	for line, count := range counts {
		if !meetsThreshold(count, len(pages), threshold) {
			continue
		}
		if IsStructuralMarker(line) {
			continue
		}
		repeated[line] = true
	}
	return repeated
}

// meetsThreshold reports count/total >= threshold, rounded up so that three
// pages need two occurrences and five pages need three.
func meetsThreshold(count, total int, threshold float64) bool {
	return float64(count) >= threshold*float64(total)-1e-9
}

// RemoveLines drops every line of text whose trimmed form is in lines.
func RemoveLines(text string, lines map[string]bool) string {
	if len(lines) == 0 || text == "" {
		return text
	}

	kept := make([]string, 0, strings.Count(text, "\n")+1)
	for _, line := range strings.Split(text, "\n") {
		if lines[strings.TrimSpace(line)] {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
