package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JCHanratty/CASearch/internal/embed"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
)

// semanticSnippetTokens is the length of the excerpt shown for results that
// only semantic search returned.
const semanticSnippetTokens = 24

// Engine answers search queries over the indexed agreements. It parses the
// query, expands synonyms for the keyword strategies, runs all strategies
// through the orchestrator, fuses and re-ranks their rankings, drops refs
// removed since indexing and resolves the rest for display.
type Engine struct {
	docs         store.DocumentStore
	orchestrator *Orchestrator
	fusion       *RRFFusion
	expander     *QueryExpander
	config       Config

	embedder *embed.Lazy[embed.Embedder]
	vectors  *embed.Lazy[store.VectorStore]

	queryMetrics *telemetry.QueryMetrics
	metrics      *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithEmbedder sets the lazily initialized embedder for semantic search.
func WithEmbedder(l *embed.Lazy[embed.Embedder]) EngineOption {
	return func(e *Engine) {
		e.embedder = l
	}
}

// WithVectorStore sets the lazily loaded vector store for semantic search.
func WithVectorStore(l *embed.Lazy[store.VectorStore]) EngineOption {
	return func(e *Engine) {
		e.vectors = l
	}
}

// WithExpander sets the synonym expander. When unset and synonym expansion
// is enabled, the built-in table is used.
func WithExpander(exp *QueryExpander) EngineOption {
	return func(e *Engine) {
		e.expander = exp
	}
}

// WithQueryMetrics sets an optional query telemetry collector.
func WithQueryMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.queryMetrics = m
	}
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a search engine. Returns an error if a required
// dependency is nil. The engine does not own docs or lexical; callers close
// them after closing the engine.
func NewEngine(docs store.DocumentStore, lexical store.LexicalIndex, config Config, opts ...EngineOption) (*Engine, error) {
	if docs == nil {
		return nil, fmt.Errorf("%w: document store is required", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}

	e := &Engine{
		docs:   docs,
		config: applyConfigDefaults(config),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.expander == nil && e.config.ExpandSynonyms {
		e.expander = NewQueryExpander(nil)
	}
	e.fusion = NewRRFFusionWithConfig(e.config.RRFConstant, e.config.Weights, e.config.Rerank)

	orch, err := NewOrchestrator(lexical,
		WithLazyEmbedder(e.embedder),
		WithLazyVectorStore(e.vectors),
		WithPoolSize(e.config.PoolSize),
		WithCandidateLimit(e.config.CandidateLimit),
		WithStrategyMetrics(e.metrics),
	)
	if err != nil {
		return nil, err
	}
	e.orchestrator = orch
	return e, nil
}

// applyConfigDefaults fills zero fields from DefaultConfig.
func applyConfigDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = d.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = d.MaxLimit
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = d.CandidateLimit
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = d.RRFConstant
	}
	if cfg.Weights == nil {
		cfg.Weights = d.Weights
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = d.OverallTimeout
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = d.StrategyTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = d.PoolSize
	}
	if cfg.Rerank == (RerankConfig{}) {
		cfg.Rerank = d.Rerank
	}
	return cfg
}

// Search runs a hybrid search for raw. An empty query returns an empty
// response and no error. When every strategy fails the error is coded
// ERR_506_NO_STRATEGIES and wraps ErrNoStrategiesAvailable; when only some
// fail the response is marked Degraded and lists the failures.
func (e *Engine) Search(ctx context.Context, raw string, opts SearchOptions) (*Response, error) {
	start := time.Now()
	opts = e.applyDefaults(opts)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, caserrors.InternalError("search engine is closed", nil)
	}

	q := query.Parse(raw)
	q.Mode = opts.Mode
	q.DocumentID = opts.DocumentID

	resp := &Response{
		RequestID: uuid.NewString(),
		Query:     raw,
		Mode:      q.Mode,
	}
	if q.IsEmpty() {
		resp.Duration = time.Since(start)
		return resp, nil
	}

	if e.expander != nil && !opts.NoSynonyms {
		q = e.expander.Expand(q)
	}

	strategies := AllStrategies
	if opts.LexicalOnly {
		strategies = LexicalStrategies
	}

	results, failures, err := e.orchestrator.RetrieveStrategies(ctx, q, strategies, opts.OverallTimeout, opts.StrategyTimeout)
	resp.Failures = failures
	resp.Degraded = len(failures) > 0
	if err != nil {
		slog.Error("search_failed",
			slog.String("request_id", resp.RequestID),
			slog.String("query", raw),
			slog.Int("failures", len(failures)),
			slog.String("error", err.Error()))
		return nil, caserrors.New(caserrors.ErrCodeNoStrategies, "all search strategies failed", err).
			WithSuggestion("Run 'casearch status' to check the index, or retry with --lexical-only")
	}

	for _, r := range results {
		resp.Contributing = append(resp.Contributing, r.Strategy)
		if r.Strategy.IsLexical() && r.FellBack {
			resp.FellBack = true
			resp.Mode = r.Mode
		}
	}
	for _, f := range failures {
		slog.Warn("search_degraded",
			slog.String("request_id", resp.RequestID),
			slog.String("strategy", string(f.Strategy)),
			slog.String("reason", string(f.Reason)),
			slog.String("error", errString(f.Err)))
	}

	units, err := e.loadUnits(ctx, results)
	if err != nil {
		return nil, caserrors.New(caserrors.ErrCodeSearchFailed, "failed to load search results", err)
	}

	passages := make(map[store.Ref]Passage, len(units))
	for ref, u := range units {
		passages[ref] = u.passage
	}
	fused := e.fusion.Fuse(results, q, passages)

	resp.Results = e.buildResults(ctx, fused, units, q, opts.Limit)
	resp.Duration = time.Since(start)

	e.record(q, resp)

	slog.Debug("search_complete",
		slog.String("request_id", resp.RequestID),
		slog.Int("results", len(resp.Results)),
		slog.Int("fused", len(fused)),
		slog.Bool("degraded", resp.Degraded),
		slog.Bool("fell_back", resp.FellBack),
		slog.Duration("duration", resp.Duration))

	return resp, nil
}

// applyDefaults fills in default values for search options.
func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Mode == "" {
		opts.Mode = query.ModeAnd
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = e.config.OverallTimeout
	}
	if opts.StrategyTimeout <= 0 {
		opts.StrategyTimeout = e.config.StrategyTimeout
	}
	return opts
}

// unit is a page or chunk resolved from the document store.
type unit struct {
	passage Passage
	page    int
}

// loadUnits resolves every ref the strategies returned. Refs removed since
// indexing are left out of the map.
func (e *Engine) loadUnits(ctx context.Context, results []StrategyResult) (map[store.Ref]unit, error) {
	seen := make(map[store.Ref]bool)
	var refs []store.Ref
	for _, r := range results {
		for _, h := range r.Hits {
			if !seen[h.Ref] {
				seen[h.Ref] = true
				refs = append(refs, h.Ref)
			}
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	existing, err := e.docs.ExistingRefs(ctx, refs)
	if err != nil {
		return nil, err
	}

	units := make(map[store.Ref]unit, len(existing))
	for _, ref := range refs {
		if !existing[ref] {
			continue
		}
		u, err := e.loadUnit(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		units[ref] = u
	}

	if stale := len(refs) - len(units); stale > 0 {
		slog.Debug("stale_refs_dropped", slog.Int("count", stale))
	}
	return units, nil
}

func (e *Engine) loadUnit(ctx context.Context, ref store.Ref) (unit, error) {
	switch ref.Kind {
	case store.KindPage:
		p, err := e.docs.GetPage(ctx, ref.DocumentID, ref.Ordinal)
		if err != nil {
			return unit{}, err
		}
		return unit{passage: Passage{Text: p.CleanText}, page: p.Number}, nil
	case store.KindChunk:
		c, err := e.docs.GetChunk(ctx, ref.DocumentID, ref.Ordinal)
		if err != nil {
			return unit{}, err
		}
		return unit{passage: Passage{Text: c.Text, Heading: c.Heading}, page: c.PageStart}, nil
	default:
		return unit{}, store.ErrNotFound
	}
}

// buildResults converts the fused ranking into results, skipping stale refs,
// until limit results are collected.
func (e *Engine) buildResults(ctx context.Context, fused []*FusedResult, units map[store.Ref]unit, q query.Query, limit int) []Result {
	names := make(map[int64]string)
	words := q.Words()

	results := make([]Result, 0, min(limit, len(fused)))
	for _, f := range fused {
		if len(results) >= limit {
			break
		}
		u, ok := units[f.Ref]
		if !ok {
			continue
		}

		name, ok := names[f.Ref.DocumentID]
		if !ok {
			if doc, err := e.docs.GetDocument(ctx, f.Ref.DocumentID); err == nil {
				name = doc.Name
			}
			names[f.Ref.DocumentID] = name
		}

		snippet := f.Snippet
		if snippet == "" {
			snippet = store.Snippet(u.passage.Text, words, semanticSnippetTokens)
		}

		results = append(results, Result{
			Ref:          f.Ref,
			DocumentName: name,
			Page:         u.page,
			Heading:      u.passage.Heading,
			Score:        f.Score,
			Snippet:      snippet,
			Strategies:   f.Strategies,
			ExactPhrase:  f.ExactPhrase,
			HeadingMatch: f.HeadingMatch,
		})
	}
	return results
}

// record reports the search to telemetry.
func (e *Engine) record(q query.Query, resp *Response) {
	e.metrics.ObserveSearch(resp.Duration, len(resp.Results), resp.Degraded)
	if e.queryMetrics == nil {
		return
	}
	e.queryMetrics.Record(telemetry.QueryEvent{
		Query:       q.Raw,
		QueryType:   telemetry.ClassifyQuery(len(q.Phrases), len(q.Terms)),
		ResultCount: len(resp.Results),
		Latency:     resp.Duration,
		Timestamp:   time.Now(),
		Degraded:    resp.Degraded,
		FellBack:    resp.FellBack,
	})
}

// Close releases the worker pool and, if they were initialized, the
// embedder and vector store. Safe to call multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.orchestrator.Close()

	var errs []error
	if e.embedder != nil {
		if err := e.embedder.Close(func(emb embed.Embedder) error { return emb.Close() }); err != nil {
			errs = append(errs, err)
		}
	}
	if e.vectors != nil {
		if err := e.vectors.Close(func(v store.VectorStore) error { return v.Close() }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
