package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/JCHanratty/CASearch/internal/embed"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
)

// AllStrategies lists every strategy in fixed order.
var AllStrategies = []Strategy{StrategyLexicalPage, StrategyLexicalChunk, StrategySemantic}

// LexicalStrategies lists the keyword strategies.
var LexicalStrategies = []Strategy{StrategyLexicalPage, StrategyLexicalChunk}

// Orchestrator runs retrieval strategies concurrently on a bounded worker
// pool. A strategy that fails, panics or runs past its deadline is recorded
// as a StrategyFailure and never holds up the others.
type Orchestrator struct {
	lexical  store.LexicalIndex
	embedder *embed.Lazy[embed.Embedder]
	vectors  *embed.Lazy[store.VectorStore]

	pool           *ants.Pool
	poolSize       int
	candidateLimit int
	vectorBreaker  *caserrors.CircuitBreaker
	metrics        *telemetry.Metrics
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLazyEmbedder sets the embedder used by the semantic strategy. Without
// one, semantic search is reported unavailable.
func WithLazyEmbedder(l *embed.Lazy[embed.Embedder]) OrchestratorOption {
	return func(o *Orchestrator) {
		o.embedder = l
	}
}

// WithLazyVectorStore sets the vector store used by the semantic strategy.
func WithLazyVectorStore(l *embed.Lazy[store.VectorStore]) OrchestratorOption {
	return func(o *Orchestrator) {
		o.vectors = l
	}
}

// WithPoolSize sets the worker pool size (default: 8).
func WithPoolSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithCandidateLimit sets how many hits each strategy fetches.
func WithCandidateLimit(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.candidateLimit = n
		}
	}
}

// WithVectorBreaker sets the circuit breaker around vector search.
func WithVectorBreaker(cb *caserrors.CircuitBreaker) OrchestratorOption {
	return func(o *Orchestrator) {
		if cb != nil {
			o.vectorBreaker = cb
		}
	}
}

// WithStrategyMetrics records per-strategy latency and failures.
func WithStrategyMetrics(m *telemetry.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator over the given lexical index.
func NewOrchestrator(lexical store.LexicalIndex, opts ...OrchestratorOption) (*Orchestrator, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}

	o := &Orchestrator{
		lexical:        lexical,
		poolSize:       DefaultConfig().PoolSize,
		candidateLimit: store.DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.vectorBreaker == nil {
		o.vectorBreaker = caserrors.NewCircuitBreaker("vector_search")
	}

	// Nonblocking: a saturated pool rejects instead of queueing past the
	// caller's deadline.
	pool, err := ants.NewPool(o.poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy pool: %w", err)
	}
	o.pool = pool
	return o, nil
}

// Close releases the worker pool.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

// outcome is what one strategy task reports back.
type outcome struct {
	strategy Strategy
	result   StrategyResult
	failure  *StrategyFailure
}

// Retrieve runs every strategy for q. See RetrieveStrategies.
func (o *Orchestrator) Retrieve(ctx context.Context, q query.Query, overall, perStrategy time.Duration) ([]StrategyResult, []StrategyFailure, error) {
	return o.RetrieveStrategies(ctx, q, AllStrategies, overall, perStrategy)
}

// RetrieveStrategies runs the given strategies for q, each bounded by
// perStrategy and all of them by overall. It returns when every strategy
// has reported or the overall deadline passes, whichever comes first;
// strategies still running are recorded as timed out and their results
// discarded. Results and failures come back in fixed strategy order.
//
// An empty query returns nothing and no error. If every strategy failed,
// the error wraps ErrNoStrategiesAvailable.
func (o *Orchestrator) RetrieveStrategies(ctx context.Context, q query.Query, strategies []Strategy, overall, perStrategy time.Duration) ([]StrategyResult, []StrategyFailure, error) {
	if q.IsEmpty() || len(strategies) == 0 {
		return nil, nil, nil
	}

	defaults := DefaultConfig()
	if overall <= 0 {
		overall = defaults.OverallTimeout
	}
	if perStrategy <= 0 {
		perStrategy = defaults.StrategyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	// Buffered so stragglers can report after the collector has gone.
	outcomes := make(chan outcome, len(strategies))
	pending := make(map[Strategy]bool, len(strategies))

	for _, s := range strategies {
		if pending[s] {
			continue
		}
		pending[s] = true
		err := o.pool.Submit(func() {
			outcomes <- o.runTask(ctx, s, q, perStrategy)
		})
		if err != nil {
			outcomes <- outcome{strategy: s, failure: &StrategyFailure{
				Strategy: s,
				Reason:   ReasonPoolRejected,
				Err:      err,
			}}
		}
	}

	var (
		results  []StrategyResult
		failures []StrategyFailure
	)

collect:
	for len(pending) > 0 {
		select {
		case out := <-outcomes:
			delete(pending, out.strategy)
			if out.failure != nil {
				failures = append(failures, *out.failure)
			} else {
				results = append(results, out.result)
			}
		case <-ctx.Done():
			break collect
		}
	}

	for s := range pending {
		failures = append(failures, StrategyFailure{
			Strategy: s,
			Reason:   ReasonTimeout,
			Err:      fmt.Errorf("overall deadline of %s exceeded: %w", overall, ctx.Err()),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return strategyOrder[results[i].Strategy] < strategyOrder[results[j].Strategy]
	})
	sort.Slice(failures, func(i, j int) bool {
		return strategyOrder[failures[i].Strategy] < strategyOrder[failures[j].Strategy]
	})

	for _, f := range failures {
		o.metrics.RecordStrategyFailure(string(f.Strategy), string(f.Reason))
	}

	if len(results) == 0 {
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f
		}
		return nil, failures, fmt.Errorf("%w: %w", ErrNoStrategiesAvailable, errors.Join(errs...))
	}
	return results, failures, nil
}

// runTask executes one strategy under its own deadline and converts errors
// and panics into failures.
func (o *Orchestrator) runTask(ctx context.Context, s Strategy, q query.Query, timeout time.Duration) (out outcome) {
	out.strategy = s
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("strategy_panic",
				slog.String("strategy", string(s)),
				slog.Any("panic", r))
			out.failure = &StrategyFailure{
				Strategy: s,
				Reason:   ReasonError,
				Err:      fmt.Errorf("panic: %v", r),
			}
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		res StrategyResult
		err error
	)
	if s.IsLexical() {
		res, err = o.lexicalSearch(sctx, s, q)
	} else {
		res, err = o.semanticSearch(sctx, q)
	}
	res.Strategy = s
	res.Duration = time.Since(start)

	if err != nil {
		f := classifyFailure(s, err)
		out.failure = &f
		slog.Debug("strategy_failed",
			slog.String("strategy", string(s)),
			slog.String("reason", string(f.Reason)),
			slog.Duration("duration", res.Duration),
			slog.String("error", err.Error()))
		return out
	}

	o.metrics.ObserveStrategy(string(s), res.Duration, len(res.Hits))
	slog.Debug("strategy_complete",
		slog.String("strategy", string(s)),
		slog.Int("hits", len(res.Hits)),
		slog.Bool("fell_back", res.FellBack),
		slog.Duration("duration", res.Duration))

	out.result = res
	return out
}

// errEmptyIndex marks a semantic search skipped because no vectors exist.
var errEmptyIndex = errors.New("vector index is empty")

// classifyFailure maps a strategy error to a failure reason.
func classifyFailure(s Strategy, err error) StrategyFailure {
	reason := ReasonError
	switch {
	case errors.Is(err, errEmptyIndex):
		reason = ReasonEmptyIndex
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, embed.ErrUnavailable), caserrors.IsCircuitOpen(err):
		reason = ReasonUnavailable
	}
	return StrategyFailure{Strategy: s, Reason: reason, Err: err}
}

func (o *Orchestrator) lexicalSearch(ctx context.Context, s Strategy, q query.Query) (StrategyResult, error) {
	coll := store.CollectionPages
	if s == StrategyLexicalChunk {
		coll = store.CollectionChunks
	}

	out, err := SearchWithFallback(ctx, o.lexical, coll, q, o.candidateLimit)
	if err != nil {
		return StrategyResult{}, err
	}
	if out.FellBack {
		o.metrics.RecordFallback(string(s))
	}

	hits := make([]Hit, len(out.Hits))
	for i, h := range out.Hits {
		hits[i] = Hit{Ref: h.Ref, Score: h.Score, Snippet: h.Snippet}
	}
	return StrategyResult{Hits: hits, Mode: out.Mode, FellBack: out.FellBack}, nil
}

// semanticSearch embeds the original query text and searches chunk vectors.
// An empty vector index is detected before any embedding work.
func (o *Orchestrator) semanticSearch(ctx context.Context, q query.Query) (StrategyResult, error) {
	if o.embedder == nil || o.vectors == nil {
		return StrategyResult{}, fmt.Errorf("%w: semantic search not configured", embed.ErrUnavailable)
	}

	vectors, err := o.vectors.Get(ctx)
	if err != nil {
		return StrategyResult{}, fmt.Errorf("vector store: %w", err)
	}
	if vectors.Count() == 0 {
		return StrategyResult{}, errEmptyIndex
	}

	embedder, err := o.embedder.Get(ctx)
	if err != nil {
		return StrategyResult{}, fmt.Errorf("embedder: %w", err)
	}

	text := strings.TrimSpace(q.Raw)
	if text == "" {
		text = q.Text()
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return StrategyResult{}, fmt.Errorf("embed query: %w", err)
	}

	filter := store.DocumentFilter(q.DocumentID)
	found, err := caserrors.CircuitExecute(o.vectorBreaker, func() ([]*store.VectorResult, error) {
		return vectors.Search(ctx, vec, o.candidateLimit, filter)
	})
	if err != nil {
		return StrategyResult{}, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(found))
	for _, r := range found {
		ref, err := store.ParseRef(r.ID)
		if err != nil {
			slog.Debug("skipping_invalid_vector_id", slog.String("id", r.ID))
			continue
		}
		hits = append(hits, Hit{Ref: ref, Score: float64(r.Score)})
	}
	return StrategyResult{Hits: hits, Mode: q.Mode}, nil
}
