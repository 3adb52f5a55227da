package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JCHanratty/CASearch/internal/embed"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/output"
	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/search"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode        string
	documentID  int64
	limit       int
	format      string // "text", "json"
	lexicalOnly bool
	noSynonyms  bool
	metrics     bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed agreements",
		Long: `Search the indexed agreements using hybrid search.

Page and section keyword search run alongside semantic section search;
their rankings are merged with Reciprocal Rank Fusion and re-ranked by
exact phrase matches and term proximity. Quote a phrase to match it
exactly. In and mode a query that matches nothing is retried in or mode.

Examples:
  casearch search "overtime rate"
  casearch search '"sick leave" carry over' --mode or
  casearch search "vacation entitlement" --doc 3 --limit 5
  casearch search grievance --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Term matching: and, or (default: search.default_mode)")
	cmd.Flags().Int64Var(&opts.documentID, "doc", 0, "Only search the document with this ID")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.default_limit)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Use keyword search only (skip semantic search)")
	cmd.Flags().BoolVar(&opts.noSynonyms, "no-synonyms", false, "Do not expand query terms with synonyms")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print search metrics after the results")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, raw string, opts searchOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return caserrors.ValidationError(err.Error(), nil)
	}
	mode := defaultMode(root.cfg)
	if opts.mode != "" {
		if m := strings.ToLower(opts.mode); m != string(query.ModeAnd) && m != string(query.ModeOr) {
			return caserrors.ValidationError(fmt.Sprintf("invalid --mode %q (expected and or or)", opts.mode), nil)
		}
		mode = query.ParseMode(opts.mode)
	}

	ws, err := openWorkspace(root, false)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	if opts.documentID != 0 {
		if _, err := ws.docs.GetDocument(ctx, opts.documentID); err != nil {
			return caserrors.New(caserrors.ErrCodeDocumentNotFound,
				fmt.Sprintf("unknown document id %d", opts.documentID), err).
				WithSuggestion("Run 'casearch status --documents' to list document ids")
		}
	}

	engine, queryMetrics, metrics, err := newEngine(ctx, root, ws)
	if err != nil {
		return err
	}
	defer func() {
		_ = engine.Close()
		if queryMetrics != nil {
			_ = queryMetrics.Close()
		}
	}()

	resp, err := engine.Search(ctx, raw, search.SearchOptions{
		Mode:        mode,
		DocumentID:  opts.documentID,
		Limit:       opts.limit,
		LexicalOnly: opts.lexicalOnly,
		NoSynonyms:  opts.noSynonyms,
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if err := out.Results(resp, format); err != nil {
		return err
	}
	if opts.metrics {
		out.Newline()
		return metrics.WriteText(cmd.OutOrStdout())
	}
	return nil
}

// newEngine wires the search engine for ws: lazy embedder and vector
// store, synonym expansion from the built-in and custom tables, and
// telemetry.
func newEngine(ctx context.Context, root *rootOptions, ws *workspace) (*search.Engine, *telemetry.QueryMetrics, *telemetry.Metrics, error) {
	cfg := root.cfg
	metrics := telemetry.NewMetrics()
	engineOpts := []search.EngineOption{search.WithMetrics(metrics)}

	ecfg, err := embedConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if ecfg.Provider != embed.ProviderNone {
		vectorPath := root.vectorPath()
		engineOpts = append(engineOpts,
			search.WithEmbedder(embed.NewLazyEmbedder(ecfg)),
			search.WithVectorStore(embed.NewLazy(func(context.Context) (store.VectorStore, error) {
				return loadVectorStore(vectorPath)
			})))
	}

	if !cfg.Synonyms.Disabled {
		table, err := search.LoadSynonymTable(ctx, ws.docs)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Synonyms.File != "" {
			custom, err := search.LoadSynonymFile(cfg.Synonyms.File)
			if err != nil {
				return nil, nil, nil, caserrors.ConfigError("failed to load synonyms.file", err)
			}
			table.Replace(search.MergeSynonyms(table.Groups(), custom))
		}
		engineOpts = append(engineOpts, search.WithExpander(
			search.NewQueryExpander(table, search.WithMaxExpansions(cfg.Synonyms.MaxExpansions))))
	}

	queryMetrics := newQueryMetrics(cfg, ws.docs)
	if queryMetrics != nil {
		engineOpts = append(engineOpts, search.WithQueryMetrics(queryMetrics))
	}

	engine, err := search.NewEngine(ws.docs, ws.lexical, searchConfig(cfg), engineOpts...)
	if err != nil {
		if queryMetrics != nil {
			_ = queryMetrics.Close()
		}
		return nil, nil, nil, err
	}

	stats, err := ws.docs.Stats(ctx)
	if err == nil {
		byStatus := make(map[string]int, len(stats.ByStatus))
		for s, n := range stats.ByStatus {
			byStatus[string(s)] = n
		}
		metrics.SetStoreStats(byStatus, stats.Pages, stats.Chunks, 0)
	}
	slog.Debug("search_engine_ready",
		slog.String("lexical_backend", string(ws.backend)),
		slog.String("embed_provider", string(ecfg.Provider)))
	return engine, queryMetrics, metrics, nil
}
