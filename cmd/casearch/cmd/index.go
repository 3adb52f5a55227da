package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JCHanratty/CASearch/internal/embed"
	"github.com/JCHanratty/CASearch/internal/index"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
	"github.com/JCHanratty/CASearch/internal/ui"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	force       bool
	lexicalOnly bool
	quiet       bool
	noColor     bool
	workers     int
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Index agreement documents for searching",
		Long: `Index agreement documents so they can be searched.

Each path is a .txt file (pages separated by form feeds), a .json file
({"name": ..., "pages": [...]}) or a directory searched for both.
Without arguments the paths.documents entries of the config are used.

Documents are normalized, split at article and section headings,
stored with full-text indexes and embedded for semantic search.
Unchanged documents are skipped unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			paths := args
			if len(paths) == 0 {
				paths = root.cfg.Paths.Documents
			}
			if len(paths) == 0 {
				return fmt.Errorf("nothing to index: pass a path or set paths.documents in the config")
			}
			return runIndex(ctx, cmd, root, paths, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-index documents even if unchanged")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Skip embedding (keyword search only)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors and the summary")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent documents to prepare (default: performance.index_workers)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, root *rootOptions, paths []string, opts indexOptions) error {
	cfg := root.cfg

	if err := runPreflight(root.dataDirPath(), cfg.Search.LexicalBackend, paths); err != nil {
		return err
	}

	lock := index.NewDirLock(root.dataDirPath())
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ws, err := openWorkspace(root, true)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithNoColor(opts.noColor),
		ui.WithQuiet(opts.quiet)))

	deps := index.RunnerDependencies{
		Docs:       ws.docs,
		Lexical:    ws.writer,
		Renderer:   renderer,
		Metrics:    telemetry.NewMetrics(),
		Normalizer: newNormalizer(cfg),
		Chunker:    newChunker(cfg),
	}

	force := opts.force
	if !opts.lexicalOnly {
		embedder, vectors, reset, err := openSemantic(ctx, root)
		if err != nil {
			return err
		}
		if embedder != nil {
			defer func() { _ = embedder.Close() }()
			defer func() { _ = vectors.Close() }()
			deps.Embedder = embedder
			deps.Vectors = vectors
			force = force || reset
		}
	}

	runner, err := index.NewRunner(deps)
	if err != nil {
		return err
	}

	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Performance.IndexWorkers
	}
	runCfg := index.RunnerConfig{
		Force:          force,
		Workers:        workers,
		EmbedBatchSize: cfg.Embeddings.BatchSize,
		EmbedWorkers:   cfg.Performance.EmbedWorkers,
		MaxFileSize:    int64(cfg.Performance.MaxFileSizeMB) * 1024 * 1024,
	}
	if deps.Vectors != nil {
		runCfg.VectorPath = root.vectorPath()
	}

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	result, err := runner.Run(ctx, paths, runCfg)
	if err != nil {
		return err
	}
	if err := ws.docs.Checkpoint(); err != nil {
		slog.Debug("wal_checkpoint_failed", slog.String("error", err.Error()))
	}
	if result.Failed > 0 && result.Documents == 0 && result.Skipped == 0 {
		return fmt.Errorf("all %d documents failed to index", result.Failed)
	}
	return nil
}

// openSemantic builds the embedder and the vector store it feeds. The
// embedder is nil when semantic indexing is unavailable, which is logged
// and reported but not an error. reset is true when the saved vectors were
// built with other dimensions and every document must be embedded again.
func openSemantic(ctx context.Context, root *rootOptions) (embedder embed.Embedder, vectors *store.HNSWStore, reset bool, err error) {
	ecfg, err := embedConfig(root.cfg)
	if err != nil {
		return nil, nil, false, err
	}

	embedder, err = embed.NewEmbedder(ctx, ecfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, false, ctx.Err()
		}
		level := slog.LevelWarn
		if errors.Is(err, embed.ErrUnavailable) {
			level = slog.LevelInfo
		}
		slog.Log(ctx, level, "semantic_indexing_disabled",
			slog.String("provider", string(ecfg.Provider)),
			slog.String("error", err.Error()))
		return nil, nil, false, nil
	}

	dims := embedder.Dimensions()
	path := root.vectorPath()
	existing, err := store.ReadHNSWStoreDimensions(path)
	if err != nil {
		slog.Warn("vector_metadata_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		existing, reset = 0, true
	}

	vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = embedder.Close()
		return nil, nil, false, err
	}

	switch {
	case existing == dims:
		if err := vectors.Load(path); err != nil {
			slog.Warn("vector_load_failed", slog.String("path", path), slog.String("error", err.Error()))
			reset = true
		}
	case existing == 0:
		// Documents indexed lexical-only so far get embedded now
		reset = true
	default:
		slog.Warn("vector_dimensions_changed",
			slog.Int("saved", existing),
			slog.Int("embedder", dims),
			slog.String("action", "re-embedding all documents"))
		reset = true
	}
	return embedder, vectors, reset, nil
}
