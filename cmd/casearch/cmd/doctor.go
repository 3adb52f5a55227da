package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JCHanratty/CASearch/internal/embed"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/index"
	"github.com/JCHanratty/CASearch/internal/preflight"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics for the data directory.

Checks:
  - Disk space (100MB minimum)
  - Write permissions
  - File descriptor limits (1024 minimum)
  - Embedder availability

The embedder check is a warning only: without an embedder search uses
keyword strategies alone.`,
		Example: `  casearch doctor
  casearch doctor --verbose
  casearch doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, root, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// doctorReport is the JSON form of a doctor run.
type doctorReport struct {
	Status   string            `json:"status"`
	Checks   []doctorCheckJSON `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

type doctorCheckJSON struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func runDoctor(cmd *cobra.Command, root *rootOptions, verbose, jsonOutput bool) error {
	dataDir := root.dataDirPath()
	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithEmbedderProbe(embedderProbe(root)),
		preflight.WithLexicalBackend(root.cfg.Search.LexicalBackend),
	)

	results := checker.RunAll(cmd.Context(), dataDir)
	critical := checker.HasCriticalFailures(results)
	if critical {
		_ = preflight.ClearMarker(dataDir)
	}

	if jsonOutput {
		report := doctorReport{Status: checker.SummaryStatus(results)}
		for _, r := range results {
			report.Checks = append(report.Checks, doctorCheckJSON{
				Name:     r.Name,
				Status:   r.Status.String(),
				Message:  r.Message,
				Required: r.Required,
				Details:  r.Details,
			})
			if r.IsCritical() {
				report.Errors = append(report.Errors, r.Name+": "+r.Message)
			} else if r.Status != preflight.StatusPass {
				report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		if age := preflight.MarkerAge(dataDir); age > 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", age.Round(time.Minute))
		}
	}

	if critical {
		return caserrors.New(caserrors.ErrCodeInternal, "system check failed", nil).
			WithSuggestion("Fix the errors above and run 'casearch doctor' again")
	}
	return nil
}

// embedderProbe builds the configured embedder and asks whether it is
// ready. A disabled provider reports as unavailable.
func embedderProbe(root *rootOptions) preflight.ProbeFunc {
	return func(ctx context.Context) (string, error) {
		ecfg, err := embedConfig(root.cfg)
		if err != nil {
			return "", err
		}
		ctx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
		defer cancel()

		emb, err := embed.NewEmbedder(ctx, ecfg)
		if err != nil {
			return "", err
		}
		defer func() { _ = emb.Close() }()
		if !emb.Available(ctx) {
			return "", errors.New("embedder did not respond")
		}
		return fmt.Sprintf("%s %s (%d dims)", ecfg.Provider, emb.ModelName(), emb.Dimensions()), nil
	}
}

// runPreflight runs the required checks before the first index build in
// dataDir and records a pass so later builds skip them. Free space is
// checked against an estimate from the size of the sources.
func runPreflight(dataDir, backend string, sources []string) error {
	if !preflight.NeedsCheck(dataDir) {
		return nil
	}
	checker := preflight.New(
		preflight.WithLexicalBackend(backend),
		preflight.WithCorpusBytes(totalSize(sources)),
	)
	for _, r := range checker.RunRequired(dataDir) {
		if r.IsCritical() {
			return caserrors.New(caserrors.ErrCodeInternal, "preflight check failed: "+r.Name, nil).
				WithDetail("reason", r.Message).
				WithSuggestion("Run 'casearch doctor' for details")
		}
	}
	return preflight.MarkPassed(dataDir)
}

// totalSize sums the sizes of the source files under paths. Unreadable
// paths count as empty; the indexer reports them.
func totalSize(paths []string) uint64 {
	files, err := index.CollectSources(paths)
	if err != nil {
		return 0
	}
	var n uint64
	for _, f := range files {
		n += uint64(fileSize(f))
	}
	return n
}
