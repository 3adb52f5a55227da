package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/JCHanratty/CASearch/internal/chunk"
	"github.com/JCHanratty/CASearch/internal/config"
	"github.com/JCHanratty/CASearch/internal/embed"
	"github.com/JCHanratty/CASearch/internal/normalize"
	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/search"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
)

// errNoIndex is returned by read-only commands run before any index exists.
var errNoIndex = errors.New("no index found. Run 'casearch index <path>' first")

// workspace is the set of stores in one data directory.
type workspace struct {
	dataDir string
	backend store.LexicalBackend
	docs    *store.SQLiteStore
	lexical store.LexicalIndex

	// writer is the separately maintained lexical index, nil for sqlite
	writer store.LexicalWriter
}

// openWorkspace opens the document store and lexical index. Unless create
// is set, a missing document database is errNoIndex.
func openWorkspace(opts *rootOptions, create bool) (*workspace, error) {
	backend, err := store.ParseLexicalBackend(opts.cfg.Search.LexicalBackend)
	if err != nil {
		return nil, err
	}

	dataDir := opts.dataDirPath()
	dbPath := opts.dataPath(store.DocumentDBFile)
	if !create {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, errNoIndex
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	docs, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	lexical, err := store.NewLexicalIndex(string(backend), dataDir, docs)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	ws := &workspace{dataDir: dataDir, backend: backend, docs: docs, lexical: lexical}
	if backend != store.LexicalBackendSQLite {
		if w, ok := lexical.(store.LexicalWriter); ok {
			ws.writer = w
		}
	}
	return ws, nil
}

// Close closes the lexical index, when separate, and the document store.
func (w *workspace) Close() error {
	var errs []error
	if w.backend != store.LexicalBackendSQLite {
		errs = append(errs, w.lexical.Close())
	}
	errs = append(errs, w.docs.Close())
	return errors.Join(errs...)
}

// vectorPath is the HNSW file in the data directory.
func (o *rootOptions) vectorPath() string {
	return o.dataPath(store.VectorFile)
}

// embedConfig converts the embeddings section of cfg.
func embedConfig(cfg *config.Config) (embed.Config, error) {
	e := cfg.Embeddings
	provider, err := embed.ParseProvider(e.Provider)
	if err != nil {
		return embed.Config{}, err
	}
	return embed.Config{
		Provider:          provider,
		Model:             e.Model,
		Host:              e.Host,
		Dimensions:        e.Dimensions,
		BatchSize:         e.BatchSize,
		Timeout:           config.Duration(e.Timeout),
		RequestsPerSecond: e.RequestsPerSecond,
		CacheSize:         e.CacheSize,
		MaxFailures:       e.MaxFailures,
		ResetTimeout:      config.Duration(e.ResetTimeout),
	}, nil
}

// searchConfig converts the search section of cfg.
func searchConfig(cfg *config.Config) search.Config {
	s := cfg.Search
	out := search.DefaultConfig()
	out.DefaultLimit = s.DefaultLimit
	out.MaxLimit = s.MaxLimit
	out.CandidateLimit = s.CandidateLimit
	out.RRFConstant = s.RRFConstant
	out.Weights = map[search.Strategy]float64{
		search.StrategyLexicalPage:  s.LexicalPageWeight,
		search.StrategyLexicalChunk: s.LexicalChunkWeight,
		search.StrategySemantic:     s.SemanticWeight,
	}
	out.OverallTimeout = config.Duration(s.OverallTimeout)
	out.StrategyTimeout = config.Duration(s.StrategyTimeout)
	out.PoolSize = s.PoolSize
	out.ExpandSynonyms = !cfg.Synonyms.Disabled
	out.Rerank = search.RerankConfig{
		PhraseBoost:    s.PhraseBoost,
		ProximityBoost: s.ProximityBoost,
		RawScoreBoost:  s.RawScoreBoost,
		HeadingBoost:   s.HeadingBoost,
	}
	return out
}

// defaultMode is the configured lexical mode.
func defaultMode(cfg *config.Config) query.Mode {
	return query.ParseMode(cfg.Search.DefaultMode)
}

// newNormalizer builds the normalizer for cfg.
func newNormalizer(cfg *config.Config) *normalize.Normalizer {
	n := cfg.Normalize
	return normalize.New(
		normalize.WithHeaderStripping(!n.KeepHeaders),
		normalize.WithRepeatThreshold(n.RepeatThreshold),
		normalize.WithMinPages(n.MinPages),
	)
}

// newChunker builds the structure chunker for cfg.
func newChunker(cfg *config.Config) *chunk.StructureChunker {
	c := cfg.Chunking
	return chunk.NewStructureChunkerWithOptions(chunk.Options{
		MaxChars:     c.MaxChars,
		MinChars:     c.MinChars,
		OverlapChars: c.OverlapChars,
	})
}

// loadVectorStore opens the saved vector index read-only. A missing index
// makes semantic search unavailable rather than failing the search.
func loadVectorStore(path string) (store.VectorStore, error) {
	dims, err := store.ReadHNSWStoreDimensions(path)
	if err != nil {
		return nil, err
	}
	if dims == 0 {
		return nil, fmt.Errorf("%w: no vector index at %s", embed.ErrUnavailable, path)
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}
	if err := vectors.Load(path); err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return vectors, nil
}

// newQueryMetrics returns the query telemetry collector persisted in the
// document database, or nil when telemetry is disabled.
func newQueryMetrics(cfg *config.Config, docs *store.SQLiteStore) *telemetry.QueryMetrics {
	if cfg.Telemetry.Disabled {
		return nil
	}
	st, err := telemetry.NewSQLiteMetricsStore(docs.DB())
	if err != nil {
		slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		return nil
	}
	return telemetry.NewQueryMetricsWithConfig(st, telemetry.QueryMetricsConfig{
		TopTermsCapacity: cfg.Telemetry.TopTerms,
	})
}
