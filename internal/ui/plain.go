package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per progress event. With color enabled the
// stage tags and error prefixes are styled; the text is otherwise identical.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	quiet  bool
	styles Styles
	stage  Stage
	errors []ErrorEvent
}

// Verify interface implementation at compile time
var _ Renderer = (*PlainRenderer)(nil)

// NewPlainRenderer creates a line renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:    cfg.Output,
		quiet:  cfg.Quiet,
		styles: GetStyles(cfg.NoColor),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage
	if r.quiet {
		return
	}

	// Format: [STAGE] current/total - message or document
	msg := event.Message
	if msg == "" {
		msg = event.Document
	}
	tag := r.styles.Stage.Render("[" + event.Stage.Icon() + "]")

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "%s %d/%d - %s\n", tag, event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", tag, msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := r.styles.Error.Render("ERROR")
	if event.IsWarn {
		prefix = r.styles.Warning.Render("WARN")
	}

	if event.Document != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Document, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Errors returns the events reported so far.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = StageComplete
	_, _ = fmt.Fprintf(r.out, "%s %d documents, %d pages, %d chunks indexed in %s",
		r.styles.Success.Render("Complete:"),
		stats.Documents, stats.Pages, stats.Chunks, stats.Duration.Round(100*time.Millisecond))

	if stats.Skipped > 0 || stats.Failed > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d unchanged, %d failed)", stats.Skipped, stats.Failed)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Documents == 0 {
		return
	}

	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Stage Breakdown:"))
	_, _ = fmt.Fprintf(r.out, "  Read:  %s\n", stats.Stages.Read.Round(time.Millisecond))
	_, _ = fmt.Fprintf(r.out, "  Chunk: %s\n", stats.Stages.Chunk.Round(time.Millisecond))
	_, _ = fmt.Fprintf(r.out, "  Store: %s\n", stats.Stages.Store.Round(time.Millisecond))
	if stats.Stages.Embed > 0 && stats.Vectors > 0 {
		perSec := float64(stats.Vectors) / stats.Stages.Embed.Seconds()
		_, _ = fmt.Fprintf(r.out, "  Embed: %s (%d chunks @ %.1f/sec)\n",
			stats.Stages.Embed.Round(time.Millisecond), stats.Vectors, perSec)
	}

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims)\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
