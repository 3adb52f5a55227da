package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JCHanratty/CASearch/internal/embed"
	"github.com/JCHanratty/CASearch/internal/index"
	"github.com/JCHanratty/CASearch/internal/output"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
	"github.com/JCHanratty/CASearch/internal/ui"
)

const embedderProbeTimeout = 3 * time.Second

type statusOptions struct {
	json      bool
	documents bool
	repair    bool
	metrics   bool
	noColor   bool
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health",
		Long: `Show document counts, storage sizes and embedder availability.

The vector index is checked against the document database; --repair
removes vectors whose section no longer exists. --metrics prints the
index gauges in Prometheus text format followed by the most searched
terms and recent queries that found nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.documents, "documents", false, "List indexed documents")
	cmd.Flags().BoolVar(&opts.repair, "repair", false, "Remove vectors without a matching section")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print metrics and query telemetry")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runStatus(ctx context.Context, w io.Writer, root *rootOptions, opts statusOptions) error {
	ws, err := openWorkspace(root, false)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	stats, err := ws.docs.Stats(ctx)
	if err != nil {
		return err
	}
	docs, err := ws.docs.ListDocuments(ctx)
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		DataDir:        ws.dataDir,
		Documents:      stats.Documents,
		Pages:          stats.Pages,
		Chunks:         stats.Chunks,
		ByStatus:       make(map[string]int, len(stats.ByStatus)),
		DatabaseSize:   fileSize(filepath.Join(ws.dataDir, store.DocumentDBFile)),
		LexicalBackend: string(ws.backend),
	}
	for s, n := range stats.ByStatus {
		info.ByStatus[string(s)] = n
	}
	for _, d := range docs {
		if d.Status == store.StatusIndexed && d.UpdatedAt.After(info.LastIndexed) {
			info.LastIndexed = d.UpdatedAt
		}
	}
	if ws.backend == store.LexicalBackendBleve {
		info.LexicalSize = dirSize(filepath.Join(ws.dataDir, store.BleveDir))
	}

	vectorPath := root.vectorPath()
	info.VectorSize = fileSize(vectorPath)
	vectors, err := loadVectorStore(vectorPath)
	switch {
	case err == nil:
		defer func() { _ = vectors.Close() }()
		info.Vectors = vectors.Count()
		checker := index.NewConsistencyChecker(ws.docs, vectors)
		result, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		info.Inconsistencies = len(result.Inconsistencies)
		if opts.repair && info.Inconsistencies > 0 {
			removed, err := checker.Repair(ctx, result.Inconsistencies)
			if err != nil {
				return err
			}
			if removed > 0 {
				if err := vectors.Save(vectorPath); err != nil {
					return fmt.Errorf("failed to save repaired vectors: %w", err)
				}
			}
			info.Vectors = vectors.Count()
			info.Inconsistencies -= removed
		}
	case !errors.Is(err, embed.ErrUnavailable):
		slog.Warn("vector_index_unreadable", slog.String("error", err.Error()))
	}

	info.EmbedderType, info.EmbedderStatus, info.EmbedderModel = probeEmbedder(ctx, root)

	renderer := ui.NewStatusRenderer(w, opts.noColor || ui.DetectNoColor() || !ui.IsTTY(w))
	if opts.json {
		if err := renderer.RenderJSON(info); err != nil {
			return err
		}
	} else if err := renderer.Render(info); err != nil {
		return err
	}

	if opts.documents && !opts.json {
		printDocuments(output.New(w), docs)
	}
	if opts.metrics {
		return printMetrics(w, ws, info)
	}
	return nil
}

// probeEmbedder reports the configured provider and whether it answers.
func probeEmbedder(ctx context.Context, root *rootOptions) (provider, status, model string) {
	ecfg, err := embedConfig(root.cfg)
	if err != nil {
		return root.cfg.Embeddings.Provider, "error", ""
	}
	provider = string(ecfg.Provider)
	if ecfg.Provider == embed.ProviderNone {
		return provider, "disabled", ""
	}

	ctx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()
	emb, err := embed.NewEmbedder(ctx, ecfg)
	if err != nil {
		return provider, "offline", ecfg.Model
	}
	defer func() { _ = emb.Close() }()
	if !emb.Available(ctx) {
		return provider, "offline", emb.ModelName()
	}
	return provider, "ready", emb.ModelName()
}

func printDocuments(out *output.Writer, docs []*store.Document) {
	out.Newline()
	out.Header("Documents")
	if len(docs) == 0 {
		out.Status("", "None")
		return
	}
	for _, d := range docs {
		line := fmt.Sprintf("%d. %s (%d pages, %s)", d.ID, d.Name, d.PageCount, d.Status)
		switch d.Status {
		case store.StatusIndexed:
			out.Success(line)
		case store.StatusError:
			out.Errorf("%s: %s", line, d.Error)
		default:
			out.Warning(line)
		}
	}
}

func printMetrics(w io.Writer, ws *workspace, info ui.StatusInfo) error {
	metrics := telemetry.NewMetrics()
	metrics.SetStoreStats(info.ByStatus, info.Pages, info.Chunks, info.Vectors)
	_, _ = fmt.Fprintln(w)
	if err := metrics.WriteText(w); err != nil {
		return err
	}

	st, err := telemetry.NewSQLiteMetricsStore(ws.docs.DB())
	if err != nil {
		return err
	}
	terms, err := st.GetTopTerms(10)
	if err != nil {
		return err
	}
	zero, err := st.GetZeroResultQueries(10)
	if err != nil {
		return err
	}

	out := output.New(w)
	out.Newline()
	out.Header("Top search terms")
	if len(terms) == 0 {
		out.Status("", "None recorded")
	}
	for _, t := range terms {
		out.Statusf("", "%-24s %d", t.Term, t.Count)
	}
	out.Newline()
	out.Header("Recent queries with no results")
	if len(zero) == 0 {
		out.Status("", "None recorded")
	}
	for _, q := range zero {
		out.Statusf("", "%q", q)
	}
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total
}
