package search

import (
	"sort"

	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// strategyOrder fixes the order strategies are folded in, so fusion gives
// the same floating-point sums whatever order results arrive in.
var strategyOrder = map[Strategy]int{
	StrategyLexicalPage:  0,
	StrategyLexicalChunk: 1,
	StrategySemantic:     2,
}

// RRFFusion merges strategy rankings with weighted Reciprocal Rank Fusion
// and re-ranks the merged list by phrase, proximity and heading matches.
//
// Algorithm: RRF_score(d) = Σ weight_s / (k + rank_s(d))
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_s = 1-based position of d in strategy s
//   - weight_s = weight of strategy s
type RRFFusion struct {
	K       int
	Weights map[Strategy]float64
	Rerank  RerankConfig
}

// NewRRFFusion creates a fusion with default k, weights and boosts.
func NewRRFFusion() *RRFFusion {
	return NewRRFFusionWithConfig(DefaultRRFConstant, DefaultWeights(), DefaultRerankConfig())
}

// NewRRFFusionWithConfig creates a fusion with custom settings. If k <= 0,
// defaults to 60; strategies missing from weights get weight 1.
func NewRRFFusionWithConfig(k int, weights map[Strategy]float64, rerank RerankConfig) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	w := DefaultWeights()
	for s := range w {
		w[s] = 1
	}
	for s, v := range weights {
		w[s] = v
	}
	return &RRFFusion{K: k, Weights: w, Rerank: rerank}
}

// Fuse merges results into one ranked list. passages supplies the text used
// for re-ranking; refs without a passage are re-ranked on their snippet.
// The output is ordered by score, then exact phrase first, then lower
// document id, pages before chunks, lower ordinal. Fuse does not modify
// its inputs and gives the same output for the same input in any order.
func (f *RRFFusion) Fuse(results []StrategyResult, q query.Query, passages map[store.Ref]Passage) []*FusedResult {
	ordered := make([]StrategyResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return strategyOrder[ordered[i].Strategy] < strategyOrder[ordered[j].Strategy]
	})

	byRef := make(map[store.Ref]*FusedResult)
	for _, res := range ordered {
		weight := f.Weights[res.Strategy]
		rank := 0
		for _, hit := range res.Hits {
			r, ok := byRef[hit.Ref]
			if !ok {
				r = &FusedResult{
					Ref:       hit.Ref,
					Ranks:     make(map[Strategy]int),
					RawScores: make(map[Strategy]float64),
				}
				byRef[hit.Ref] = r
			}
			// A strategy counts a ref once, at its best rank.
			if _, seen := r.Ranks[res.Strategy]; seen {
				continue
			}
			rank++
			r.Ranks[res.Strategy] = rank
			r.RawScores[res.Strategy] = hit.Score
			r.Strategies = append(r.Strategies, res.Strategy)
			r.RRFScore += weight / float64(f.K+rank)
			if r.Snippet == "" {
				r.Snippet = hit.Snippet
			}
		}
	}

	fused := make([]*FusedResult, 0, len(byRef))
	for _, r := range byRef {
		f.rerank(r, q, passages)
		fused = append(fused, r)
	}

	sort.Slice(fused, func(i, j int) bool {
		return compareFused(fused[i], fused[j])
	})
	return fused
}

// rerank sets the boost fields of r.
func (f *RRFFusion) rerank(r *FusedResult, q query.Query, passages map[store.Ref]Passage) {
	p, ok := passages[r.Ref]
	if !ok {
		p = Passage{Text: r.Snippet}
	}

	var raw float64
	for s, v := range r.RawScores {
		if s.IsLexical() && v > raw {
			raw = v
		}
	}

	a := analyzePassage(p, q)
	r.ExactPhrase = r.HasLexicalSupport() && a.exactPhrase()
	r.HeadingMatch = a.heading
	r.Boost = f.Rerank.boost(a, q, r.HasLexicalSupport(), raw)
	r.Score = r.RRFScore + r.Boost
}

// compareFused returns true if a should rank before b.
//
// Priority:
//  1. Higher score
//  2. Exact phrase match
//  3. Lower document id, then page before chunk, then lower ordinal
func compareFused(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.ExactPhrase != b.ExactPhrase {
		return a.ExactPhrase
	}
	return a.Ref.Less(b.Ref)
}
