package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// StatusInfo contains index health information for `casearch status`.
type StatusInfo struct {
	DataDir     string         `json:"data_dir"`
	Documents   int            `json:"documents"`
	Pages       int            `json:"pages"`
	Chunks      int            `json:"chunks"`
	Vectors     int            `json:"vectors"`
	ByStatus    map[string]int `json:"by_status"`
	LastIndexed time.Time      `json:"last_indexed"`

	// Storage sizes (in bytes)
	DatabaseSize int64 `json:"database_size"`
	LexicalSize  int64 `json:"lexical_size"`
	VectorSize   int64 `json:"vector_size"`

	LexicalBackend string `json:"lexical_backend"`
	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "disabled"
	EmbedderModel  string `json:"embedder_model,omitempty"`

	// Vectors without chunks plus chunks without vectors
	Inconsistencies int `json:"inconsistencies"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.DataDir))

	_, _ = fmt.Fprintf(r.out, "  Documents:    %d\n", info.Documents)
	statuses := make([]string, 0, len(info.ByStatus))
	for s := range info.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		_, _ = fmt.Fprintf(r.out, "    %s: %d\n", r.renderStatus(s), info.ByStatus[s])
	}
	_, _ = fmt.Fprintf(r.out, "  Pages:        %d\n", info.Pages)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.Chunks)
	_, _ = fmt.Fprintf(r.out, "  Vectors:      %d\n", info.Vectors)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Database:   %s\n", FormatBytes(info.DatabaseSize))
	if info.LexicalSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Lexical:    %s\n", FormatBytes(info.LexicalSize))
	}
	_, _ = fmt.Fprintf(r.out, "    Vectors:    %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintf(r.out, "  Lexical backend: %s\n", info.LexicalBackend)
	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Type:   %s\n", info.EmbedderType)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:  %s\n", info.EmbedderModel)
	}

	if info.Inconsistencies > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  %s %d vectors out of sync with chunks (run 'casearch index --force')\n",
			r.styles.Warning.Render("Warning:"), info.Inconsistencies)
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "indexed":
		return r.styles.Success.Render(status)
	case "offline", "pending", "indexing", "disabled":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
