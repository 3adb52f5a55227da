// Package ui renders indexing progress and index status on the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents an indexing stage.
type Stage int

const (
	// StageReading is source discovery and reading.
	StageReading Stage = iota
	// StageChunking is normalization and structure chunking.
	StageChunking
	// StageStoring writes pages and chunks to the stores.
	StageStoring
	// StageEmbedding is chunk embedding.
	StageEmbedding
	// StageComplete indicates indexing is complete.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageReading:
		return "Reading"
	case StageChunking:
		return "Chunking"
	case StageStoring:
		return "Storing"
	case StageEmbedding:
		return "Embedding"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag used in line output.
func (s Stage) Icon() string {
	switch s {
	case StageReading:
		return "READ"
	case StageChunking:
		return "CHUNK"
	case StageStoring:
		return "STORE"
	case StageEmbedding:
		return "EMBED"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage    Stage
	Current  int
	Total    int
	Document string
	Message  string
}

// ErrorEvent represents a document that failed or was skipped.
type ErrorEvent struct {
	Document string
	Err      error
	IsWarn   bool
}

// StageTimings tracks duration for each indexing stage.
type StageTimings struct {
	Read  time.Duration
	Chunk time.Duration // Normalization and chunking
	Store time.Duration // SQLite, Bleve and vector writes
	Embed time.Duration
}

// EmbedderInfo contains embedder backend details.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats contains final indexing statistics.
type CompletionStats struct {
	Documents int // Indexed in this run
	Skipped   int // Unchanged since the last run
	Failed    int
	Pages     int
	Chunks    int
	Vectors   int
	Duration  time.Duration
	Stages    StageTimings
	Embedder  EmbedderInfo // Zero when semantic indexing was off
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError reports a failed or skipped document.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output  io.Writer
	NoColor bool
	Quiet   bool // Only errors and the summary
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithQuiet suppresses per-document progress lines.
func WithQuiet(quiet bool) ConfigOption {
	return func(c *Config) {
		c.Quiet = quiet
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates a line renderer. Color is used only on interactive
// terminals outside CI and when NO_COLOR is unset.
func NewRenderer(cfg Config) Renderer {
	if !IsTTY(cfg.Output) || DetectCI() || DetectNoColor() {
		cfg.NoColor = true
	}
	return NewPlainRenderer(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// NopRenderer discards all events.
type NopRenderer struct{}

// Verify interface implementation at compile time
var _ Renderer = NopRenderer{}

func (NopRenderer) Start(context.Context) error  { return nil }
func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
func (NopRenderer) Stop() error                  { return nil }
