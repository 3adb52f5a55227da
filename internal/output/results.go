package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/JCHanratty/CASearch/internal/search"
)

// Format selects how search results are printed.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat returns the format named by s, or an error.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text or json)", s)
	}
}

// JSONResult is one search result in JSON output.
type JSONResult struct {
	Ref          string   `json:"ref"`
	DocumentID   int64    `json:"document_id"`
	DocumentName string   `json:"document_name"`
	Page         int      `json:"page"`
	Heading      string   `json:"heading,omitempty"`
	Score        float64  `json:"score"`
	Snippet      string   `json:"snippet"`
	Strategies   []string `json:"strategies"`
	ExactPhrase  bool     `json:"exact_phrase,omitempty"`
	HeadingMatch bool     `json:"heading_match,omitempty"`
}

// JSONResponse is a search response in JSON output.
type JSONResponse struct {
	RequestID    string       `json:"request_id"`
	Query        string       `json:"query"`
	Mode         string       `json:"mode"`
	FellBack     bool         `json:"fell_back,omitempty"`
	Degraded     bool         `json:"degraded,omitempty"`
	Contributing []string     `json:"contributing"`
	Failures     []string     `json:"failures,omitempty"`
	DurationMS   int64        `json:"duration_ms"`
	Results      []JSONResult `json:"results"`
}

// NewJSONResponse converts resp to its JSON form.
func NewJSONResponse(resp *search.Response) JSONResponse {
	out := JSONResponse{
		RequestID:    resp.RequestID,
		Query:        resp.Query,
		Mode:         string(resp.Mode),
		FellBack:     resp.FellBack,
		Degraded:     resp.Degraded,
		Contributing: strategyNames(resp.Contributing),
		DurationMS:   resp.Duration.Milliseconds(),
		Results:      make([]JSONResult, 0, len(resp.Results)),
	}
	for _, f := range resp.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, JSONResult{
			Ref:          r.Ref.String(),
			DocumentID:   r.Ref.DocumentID,
			DocumentName: r.DocumentName,
			Page:         r.Page,
			Heading:      r.Heading,
			Score:        r.Score,
			Snippet:      r.Snippet,
			Strategies:   strategyNames(r.Strategies),
			ExactPhrase:  r.ExactPhrase,
			HeadingMatch: r.HeadingMatch,
		})
	}
	return out
}

// Results prints resp in the given format.
func (w *Writer) Results(resp *search.Response, format Format) error {
	if format == FormatJSON {
		return w.JSON(NewJSONResponse(resp))
	}

	if resp.Degraded {
		for _, f := range resp.Failures {
			w.Warningf("%s unavailable (%s)", f.Strategy, f.Reason)
		}
	}
	if len(resp.Results) == 0 {
		w.Status("", fmt.Sprintf("No results found for %q", resp.Query))
		return nil
	}

	mode := string(resp.Mode)
	if resp.FellBack {
		mode += ", relaxed from and"
	}
	w.Header(fmt.Sprintf("Found %d results for %q (%s mode, %s)",
		len(resp.Results), resp.Query, mode, resp.Duration.Round(time.Millisecond)))
	w.Newline()

	for i, r := range resp.Results {
		location := fmt.Sprintf("%s, page %d", r.DocumentName, r.Page)
		if r.Heading != "" {
			location += " · " + r.Heading
		}
		w.Statusf("", "%d. %s %s", i+1, location,
			w.styles.Label.Render(fmt.Sprintf("(score: %.4f, %s)", r.Score, strings.Join(strategyNames(r.Strategies), "+"))))
		for _, line := range wrap(r.Snippet, 76) {
			w.Status("", "   "+line)
		}
		w.Newline()
	}
	return nil
}

func strategyNames(strategies []search.Strategy) []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = string(s)
	}
	return names
}

// wrap breaks text into lines of at most width runes at spaces.
func wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	var b strings.Builder
	for _, word := range words {
		if b.Len() > 0 && len([]rune(b.String()))+1+len([]rune(word)) > width {
			lines = append(lines, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	return append(lines, b.String())
}
