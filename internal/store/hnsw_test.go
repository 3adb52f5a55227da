package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunkID(doc int64, ordinal int) string {
	return Ref{Kind: KindChunk, DocumentID: doc, Ordinal: ordinal}.String()
}

// =============================================================================
// Add / Search
// =============================================================================

func TestHNSWStore_AddAndSearch(t *testing.T) {
	// Given: three chunk vectors
	s := newTestHNSW(t, 4)
	ids := []string{chunkID(1, 0), chunkID(1, 1), chunkID(1, 2)}
	err := s.Add(context.Background(), ids, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	})
	require.NoError(t, err)

	// When: searching near the first vector
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)

	// Then: exact match first, similar vector second
	require.Len(t, results, 2)
	assert.Equal(t, chunkID(1, 0), results[0].ID)
	assert.Equal(t, chunkID(1, 2), results[1].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestHNSWStore_SearchWithDocumentFilter(t *testing.T) {
	// Given: vectors from two documents, document 2 closest to the query
	s := newTestHNSW(t, 4)
	err := s.Add(context.Background(),
		[]string{chunkID(2, 0), chunkID(2, 1), chunkID(12, 0)},
		[][]float32{{1, 0, 0, 0}, {0.95, 0.05, 0, 0}, {0.5, 0.5, 0, 0}})
	require.NoError(t, err)

	// When: filtering to document 12
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 2, DocumentFilter(12))
	require.NoError(t, err)

	// Then: only document 12 is returned even though it ranks last overall
	require.Len(t, results, 1)
	assert.Equal(t, chunkID(12, 0), results[0].ID)
}

func TestHNSWStore_SearchWidensPastFilteredCandidates(t *testing.T) {
	// Given: many vectors from document 1 and one far vector from document 2
	s := newTestHNSW(t, 4)
	var ids []string
	var vecs [][]float32
	for i := 0; i < 40; i++ {
		ids = append(ids, chunkID(1, i))
		vecs = append(vecs, []float32{1, float32(i) * 0.01, 0, 0})
	}
	ids = append(ids, chunkID(2, 0))
	vecs = append(vecs, []float32{0, 0, 1, 0})
	require.NoError(t, s.Add(context.Background(), ids, vecs))

	// When
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 1, DocumentFilter(2))

	// Then: the filtered vector is found
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunkID(2, 0), results[0].ID)
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	s := newTestHNSW(t, 4)

	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, s.Count())
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newTestHNSW(t, 4)

	err := s.Add(context.Background(), []string{"chunk:1:0"}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(context.Background(), []float32{1, 0, 0}, 1, nil)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWStore_MismatchedIDsAndVectors(t *testing.T) {
	s := newTestHNSW(t, 4)
	err := s.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0, 0, 0}})
	assert.Error(t, err)
}

func TestNewHNSWStore_RejectsZeroDimensions(t *testing.T) {
	_, err := NewHNSWStore(VectorStoreConfig{})
	assert.Error(t, err)
}

// =============================================================================
// Delete / Update
// =============================================================================

func TestHNSWStore_UpdateReplaces(t *testing.T) {
	// Given: a vector that is then re-added with a different value
	s := newTestHNSW(t, 4)
	id := chunkID(1, 0)
	require.NoError(t, s.Add(context.Background(), []string{id}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.Add(context.Background(), []string{id}, [][]float32{{0, 1, 0, 0}}))

	// Then: one live vector, matching the new value
	assert.Equal(t, 1, s.Count())
	results, err := s.Search(context.Background(), []float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestHNSWStore_Delete(t *testing.T) {
	s := newTestHNSW(t, 4)
	require.NoError(t, s.Add(context.Background(),
		[]string{chunkID(1, 0), chunkID(1, 1)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))

	require.NoError(t, s.Delete(context.Background(), []string{chunkID(1, 0), "chunk:9:9"}))

	assert.False(t, s.Contains(chunkID(1, 0)))
	assert.True(t, s.Contains(chunkID(1, 1)))
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, chunkID(1, 0), r.ID)
	}
}

func TestHNSWStore_DeleteDocument(t *testing.T) {
	// Given: vectors for documents 1, 11 and 21
	s := newTestHNSW(t, 4)
	require.NoError(t, s.Add(context.Background(),
		[]string{chunkID(1, 0), chunkID(1, 1), chunkID(11, 0), chunkID(21, 1)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}))

	// When: deleting document 1
	removed, err := s.DeleteDocument(context.Background(), 1)

	// Then: only document 1 vectors go, ids sharing digits survive
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{chunkID(11, 0), chunkID(21, 1)}, s.AllIDs())
}

// =============================================================================
// Persistence
// =============================================================================

func TestHNSWStore_Persistence(t *testing.T) {
	// Given: a saved store
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	cfg := DefaultVectorStoreConfig(4)
	s1, err := NewHNSWStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s1.Add(context.Background(),
		[]string{chunkID(3, 0), chunkID(3, 1)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, s1.Save(path))
	require.NoError(t, s1.Close())

	// When: loading into a new store
	s2 := newTestHNSW(t, 4)
	require.NoError(t, s2.Load(path))

	// Then: content and search survive the round trip
	assert.Equal(t, 2, s2.Count())
	results, err := s2.Search(context.Background(), []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunkID(3, 0), results[0].ID)

	dims, err := ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
}

func TestReadHNSWStoreDimensions_Missing(t *testing.T) {
	dims, err := ReadHNSWStoreDimensions(filepath.Join(t.TempDir(), "none.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWStore_LoadRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, os.WriteFile(path, []byte("not a vector index"), 0o644))

	s := newTestHNSW(t, 4)
	assert.ErrorIs(t, s.Load(path), ErrVectorFormat)

	_, err := ReadHNSWStoreDimensions(path)
	assert.ErrorIs(t, err, ErrVectorFormat)
}

func TestHNSWStore_SaveCompactsReplacedAndDeleted(t *testing.T) {
	// Given: a store where one vector was replaced and one deleted
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	s1 := newTestHNSW(t, 4)
	require.NoError(t, s1.Add(ctx,
		[]string{chunkID(1, 0), chunkID(1, 1), chunkID(2, 0)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}))
	require.NoError(t, s1.Add(ctx, []string{chunkID(1, 0)}, [][]float32{{0, 0, 0, 1}}))
	require.NoError(t, s1.Delete(ctx, []string{chunkID(1, 1)}))

	// When: saving and loading into a fresh store
	require.NoError(t, s1.Save(path))
	s2 := newTestHNSW(t, 4)
	require.NoError(t, s2.Load(path))

	// Then: only live vectors survive, with their latest values
	assert.Equal(t, []string{chunkID(1, 0), chunkID(2, 0)}, s2.AllIDs())
	assert.Equal(t, 2, s2.graph.Len())
	results, err := s2.Search(ctx, []float32{0, 0, 0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunkID(1, 0), results[0].ID)

	// And: the loaded store keeps accepting new vectors
	require.NoError(t, s2.Add(ctx, []string{chunkID(3, 0)}, [][]float32{{0, 1, 0, 0}}))
	assert.Equal(t, 3, s2.Count())
	removed, err := s2.DeleteDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestHNSWStore_FilteredSearchIsExact(t *testing.T) {
	// Given: many vectors of document 1 and a few of document 2
	ctx := context.Background()
	s := newTestHNSW(t, 4)
	for i := 0; i < 200; i++ {
		require.NoError(t, s.Add(ctx, []string{chunkID(1, i)}, [][]float32{{1, float32(i) / 200, 0, 0}}))
	}
	require.NoError(t, s.Add(ctx,
		[]string{chunkID(2, 0), chunkID(2, 1)},
		[][]float32{{0, 0, 1, 0}, {0, 0, 0.8, 0.2}}))

	// When: searching scoped to document 2
	results, err := s.Search(ctx, []float32{0, 0, 0, 1}, 5, DocumentFilter(2))

	// Then: both document 2 vectors come back, closest first
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, chunkID(2, 1), results[0].ID)
	assert.Equal(t, chunkID(2, 0), results[1].ID)
}

// =============================================================================
// Lifecycle and concurrency
// =============================================================================

func TestHNSWStore_ClosedStore(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Search(context.Background(), []float32{1, 0, 0, 0}, 1, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}}), ErrClosed)
	assert.Equal(t, 0, s.Count())
	assert.Nil(t, s.AllIDs())
	assert.False(t, s.Contains("a"))
}

func TestHNSWStore_ConcurrentAddAndSearch(t *testing.T) {
	s := newTestHNSW(t, 4)
	require.NoError(t, s.Add(context.Background(), []string{chunkID(1, 0)}, [][]float32{{1, 0, 0, 0}}))

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = s.Search(context.Background(), []float32{1, 0, 0, 0}, 3, nil)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				vec := []float32{float32(i), float32(j + 1), 1, 0}
				_ = s.Add(context.Background(), []string{fmt.Sprintf("chunk:%d:%d", i+1, j)}, [][]float32{vec})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1+8*25, s.Count())
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	normalizeVectorInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0, "cos"), 1e-6)
	assert.InDelta(t, 0.0, distanceToScore(2, "cos"), 1e-6)
	assert.InDelta(t, 0.5, distanceToScore(1, "l2"), 1e-6)
	assert.False(t, math.IsNaN(float64(distanceToScore(1, "unknown"))))
}
