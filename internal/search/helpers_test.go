package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JCHanratty/CASearch/internal/embed"
	"github.com/JCHanratty/CASearch/internal/query"
	"github.com/JCHanratty/CASearch/internal/store"
)

// ============================================================================
// Lexical index fake
// ============================================================================

// fakeLexical returns canned hits per collection and mode.
type fakeLexical struct {
	mu    sync.Mutex
	hits  map[store.Collection]map[query.Mode][]store.LexicalHit
	calls []query.Query

	err   error
	delay time.Duration // honours ctx
	panic bool
}

func newFakeLexical() *fakeLexical {
	return &fakeLexical{hits: make(map[store.Collection]map[query.Mode][]store.LexicalHit)}
}

func (f *fakeLexical) set(coll store.Collection, mode query.Mode, hits ...store.LexicalHit) *fakeLexical {
	if f.hits[coll] == nil {
		f.hits[coll] = make(map[query.Mode][]store.LexicalHit)
	}
	f.hits[coll][mode] = hits
	return f
}

func (f *fakeLexical) Search(ctx context.Context, coll store.Collection, q query.Query, limit int) ([]store.LexicalHit, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()

	if f.panic {
		panic("lexical backend exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits[coll][q.Mode]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeLexical) Count(_ context.Context, coll store.Collection) (int, error) {
	n := 0
	for _, hits := range f.hits[coll] {
		n += len(hits)
	}
	return n, nil
}

func (f *fakeLexical) Close() error { return nil }

func (f *fakeLexical) queries() []query.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]query.Query(nil), f.calls...)
}

// ============================================================================
// Vector store fake
// ============================================================================

// fakeVectors returns canned results. When hang is set, Search blocks
// until release is closed, ignoring its context.
type fakeVectors struct {
	count   int
	results []*store.VectorResult
	err     error

	hang    bool
	release chan struct{}

	searches   atomic.Int32
	lastFilter store.VectorFilter
}

func (f *fakeVectors) Add(context.Context, []string, [][]float32) error { return nil }

func (f *fakeVectors) Search(_ context.Context, _ []float32, k int, filter store.VectorFilter) ([]*store.VectorResult, error) {
	f.searches.Add(1)
	f.lastFilter = filter
	if f.hang {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []*store.VectorResult
	for _, r := range f.results {
		if filter != nil && !filter(r.ID) {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *fakeVectors) Delete(context.Context, []string) error { return nil }
func (f *fakeVectors) AllIDs() []string                     { return nil }
func (f *fakeVectors) Contains(string) bool                 { return false }
func (f *fakeVectors) Count() int                           { return f.count }
func (f *fakeVectors) Save(string) error                    { return nil }
func (f *fakeVectors) Load(string) error                    { return nil }
func (f *fakeVectors) Close() error                         { return nil }

// ============================================================================
// Embedder fake
// ============================================================================

type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                { return 4 }
func (f *fakeEmbedder) ModelName() string              { return "fake" }
func (f *fakeEmbedder) Available(context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) Close() error                   { return nil }

func (f *fakeEmbedder) embedded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// ============================================================================
// Helpers
// ============================================================================

func lazyOf[T any](v T) *embed.Lazy[T] {
	return embed.NewLazy(func(context.Context) (T, error) { return v, nil })
}

func pageRef(doc int64, n int) store.Ref {
	return store.Ref{Kind: store.KindPage, DocumentID: doc, Ordinal: n}
}

func chunkRef(doc int64, n int) store.Ref {
	return store.Ref{Kind: store.KindChunk, DocumentID: doc, Ordinal: n}
}

func lexHit(ref store.Ref, score float64) store.LexicalHit {
	return store.LexicalHit{Ref: ref, Score: score, Snippet: "snippet " + ref.String()}
}

func vecResult(ref store.Ref, score float32) *store.VectorResult {
	return &store.VectorResult{ID: ref.String(), Score: score, Distance: 1 - score}
}

func newTestOrchestrator(t *testing.T, lexical store.LexicalIndex, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(lexical, opts...)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

// Verify interface implementation at compile time
var (
	_ store.LexicalIndex = (*fakeLexical)(nil)
	_ store.VectorStore  = (*fakeVectors)(nil)
	_ embed.Embedder     = (*fakeEmbedder)(nil)
)
