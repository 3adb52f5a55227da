package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Cache hits and misses
// ============================================================================

func TestCachedEmbedder_CacheHit_ReturnsWithoutCallingInner(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	text := "overtime shall be paid at time and one half"

	// When: the same text is embedded twice
	first, err1 := cached.Embed(ctx, text)
	second, err2 := cached.Embed(ctx, text)

	// Then: the inner embedder is called once and results match
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, first, second)
}

func TestCachedEmbedder_CacheMiss_CallsInnerForNewText(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	for _, text := range []string{"vacation", "sick leave", "seniority"} {
		_, err := cached.Embed(ctx, text)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), inner.embedCalls.Load())
	assert.Equal(t, 3, cached.Len())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	// Given: an inner embedder that fails once
	inner := newMockEmbedder(8)
	inner.err = ErrUnavailable
	inner.failures.Store(1)
	cached := NewCachedEmbedder(inner, 100)

	// When
	_, err := cached.Embed(context.Background(), "wages")
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = cached.Embed(context.Background(), "wages")

	// Then: the second call reaches the inner embedder again
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	a := NewCachedEmbedder(&mockEmbedder{dimensions: 4, modelName: "a"}, 10)
	b := NewCachedEmbedder(&mockEmbedder{dimensions: 4, modelName: "b"}, 10)
	assert.NotEqual(t, a.cacheKey("wages"), b.cacheKey("wages"))
	assert.Equal(t, a.cacheKey("wages"), a.cacheKey("wages"))
}

// ============================================================================
// EmbedBatch
// ============================================================================

func TestCachedEmbedder_EmbedBatch_CachesIndividualResults(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"text1", "text2", "text3"})
	require.NoError(t, err)

	_, err = cached.Embed(ctx, "text1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), inner.embedCalls.Load(), "single Embed should hit the batch cache")
}

func TestCachedEmbedder_EmbedBatch_OnlyMissesReachInner(t *testing.T) {
	// Given: one of three texts already cached
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()
	warm, err := cached.Embed(ctx, "bb")
	require.NoError(t, err)

	// When
	got, err := cached.EmbedBatch(ctx, []string{"a", "bb", "ccc"})

	// Then: results are in input order and the cached vector is reused
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, warm, got[1])
	assert.Equal(t, inner.vector("a"), got[0])
	assert.Equal(t, inner.vector("ccc"), got[2])
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_EmbedBatch_Empty(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)

	got, err := cached.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int64(0), inner.batchCalls.Load())
}

// ============================================================================
// Passthrough
// ============================================================================

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(1024)
	inner.modelName = "custom-model-v2"
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 1024, cached.Dimensions())
	assert.Equal(t, "custom-model-v2", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())

	require.NoError(t, cached.Close())
	assert.Equal(t, int64(1), inner.closeCalls.Load())
}
