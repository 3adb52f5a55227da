// Package search provides hybrid retrieval over collective-agreement text.
// Page and chunk keyword search run alongside semantic chunk search on a
// bounded worker pool; their rankings are merged with weighted Reciprocal
// Rank Fusion and re-ranked by phrase and term proximity.
package search

import (
	"errors"
	"fmt"
	"time"

	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/store"
)

// ErrNoStrategiesAvailable is returned when every retrieval strategy failed.
// It is distinct from a search that ran and matched nothing.
var ErrNoStrategiesAvailable = errors.New("no search strategies available")

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Strategy names one retrieval path.
type Strategy string

const (
	StrategyLexicalPage  Strategy = "lexical_page"
	StrategyLexicalChunk Strategy = "lexical_chunk"
	StrategySemantic     Strategy = "semantic"
)

// IsLexical reports whether s is one of the keyword strategies.
func (s Strategy) IsLexical() bool {
	return s == StrategyLexicalPage || s == StrategyLexicalChunk
}

// Hit is one ranked item returned by a strategy. Score is the strategy's own
// raw score, higher is better; it is only comparable within one strategy.
type Hit struct {
	Ref     store.Ref
	Score   float64
	Snippet string
}

// StrategyResult is the ranked output of one strategy.
type StrategyResult struct {
	Strategy Strategy
	Hits     []Hit

	// Mode is the lexical mode that produced Hits. FellBack is true when
	// an AND query matched nothing and was re-issued in OR mode.
	Mode     query.Mode
	FellBack bool

	Duration time.Duration
}

// FailureReason classifies why a strategy produced no result.
type FailureReason string

const (
	ReasonTimeout      FailureReason = "timeout"
	ReasonError        FailureReason = "error"
	ReasonUnavailable  FailureReason = "unavailable"
	ReasonEmptyIndex   FailureReason = "empty_index"
	ReasonPoolRejected FailureReason = "pool_rejected"
)

// StrategyFailure records a strategy that did not contribute.
type StrategyFailure struct {
	Strategy Strategy
	Reason   FailureReason
	Err      error
}

func (f StrategyFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Strategy, f.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", f.Strategy, f.Reason, f.Err)
}

func (f StrategyFailure) Unwrap() error {
	return f.Err
}

// FusedResult is one ref after rank fusion and re-ranking.
type FusedResult struct {
	Ref store.Ref

	// Score is RRFScore plus Boost; results are ordered by it.
	Score    float64
	RRFScore float64
	Boost    float64

	// Strategies lists every strategy that returned the ref, in fixed
	// strategy order. Ranks and RawScores are keyed by strategy.
	Strategies []Strategy
	Ranks      map[Strategy]int
	RawScores  map[Strategy]float64

	ExactPhrase  bool
	HeadingMatch bool
	Snippet      string
}

// HasLexicalSupport reports whether a keyword strategy returned the ref.
func (r *FusedResult) HasLexicalSupport() bool {
	for _, s := range r.Strategies {
		if s.IsLexical() {
			return true
		}
	}
	return false
}

// SearchOptions configures one search call. Zero values use the engine
// configuration.
type SearchOptions struct {
	Mode       query.Mode
	DocumentID int64
	Limit      int

	OverallTimeout  time.Duration
	StrategyTimeout time.Duration

	// LexicalOnly skips the semantic strategy
	LexicalOnly bool

	// NoSynonyms disables synonym expansion for this call
	NoSynonyms bool
}

// Result is one search result as presented to callers.
type Result struct {
	Ref          store.Ref
	DocumentName string

	// Page is the page number for page results and the first page of
	// the chunk for chunk results.
	Page    int
	Heading string

	Score        float64
	Snippet      string
	Strategies   []Strategy
	ExactPhrase  bool
	HeadingMatch bool
}

// Response is the outcome of Engine.Search.
type Response struct {
	RequestID string
	Query     string
	Results   []Result

	// Contributing lists the strategies that ran to completion.
	Contributing []Strategy

	// Degraded is true when at least one strategy failed.
	Degraded bool
	Failures []StrategyFailure

	// Mode is the lexical mode that produced the results.
	Mode     query.Mode
	FellBack bool

	Duration time.Duration
}

// Config configures the search engine.
type Config struct {
	// DefaultLimit is the default number of results (default: 10).
	DefaultLimit int

	// MaxLimit is the maximum allowed results (default: 100).
	MaxLimit int

	// CandidateLimit is how many hits each strategy fetches (default: 50).
	CandidateLimit int

	// RRFConstant is the RRF smoothing constant k (default: 60).
	RRFConstant int

	// Weights are the per-strategy RRF weights.
	Weights map[Strategy]float64

	// OverallTimeout bounds a whole search (default: 5s).
	OverallTimeout time.Duration

	// StrategyTimeout bounds each strategy (default: 3s).
	StrategyTimeout time.Duration

	// PoolSize is the strategy worker pool size (default: 8).
	PoolSize int

	// ExpandSynonyms enables synonym expansion for lexical strategies.
	ExpandSynonyms bool

	Rerank RerankConfig
}

// RerankConfig sets the boosts added to the fused score. They are sized
// against RRF scores, which stay below sum(weights)/(k+1).
type RerankConfig struct {
	PhraseBoost    float64
	ProximityBoost float64
	RawScoreBoost  float64
	HeadingBoost   float64
}

// DefaultWeights returns the default strategy weights. Keyword strategies
// outweigh semantic search, and chunk keyword hits outweigh page hits.
func DefaultWeights() map[Strategy]float64 {
	return map[Strategy]float64{
		StrategyLexicalPage:  1.0,
		StrategyLexicalChunk: 1.2,
		StrategySemantic:     0.8,
	}
}

// DefaultRerankConfig returns the default boosts.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		PhraseBoost:    0.02,
		ProximityBoost: 0.01,
		RawScoreBoost:  0.004,
		HeadingBoost:   0.008,
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:    10,
		MaxLimit:        100,
		CandidateLimit:  store.DefaultSearchLimit,
		RRFConstant:     DefaultRRFConstant,
		Weights:         DefaultWeights(),
		OverallTimeout:  5 * time.Second,
		StrategyTimeout: 3 * time.Second,
		PoolSize:        8,
		ExpandSynonyms:  true,
		Rerank:          DefaultRerankConfig(),
	}
}
