package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JCHanratty/CASearch/internal/embed"
	"github.com/JCHanratty/CASearch/internal/store"
)

// indexedFixture indexes one agreement and returns the fixture with its
// document.
func indexedFixture(t *testing.T) (*runnerFixture, *store.Document) {
	t.Helper()
	f := newRunnerFixture(t, RunnerDependencies{})
	path := f.write(t, "city.txt", cityAgreement)
	_, err := f.runner.Run(context.Background(), []string{path}, RunnerConfig{})
	require.NoError(t, err)
	return f, f.document(t, path)
}

func unitVector(dims int) []float32 {
	v := make([]float32, dims)
	v[0] = 1
	return v
}

func TestInconsistencyType_String(t *testing.T) {
	assert.Equal(t, "orphan_vector", InconsistencyOrphanVector.String())
	assert.Equal(t, "missing_vector", InconsistencyMissingVector.String())
	assert.Equal(t, "invalid_vector_id", InconsistencyInvalidVectorID.String())
	assert.Equal(t, "unknown", InconsistencyType(99).String())
}

func TestConsistencyChecker_CleanIndex(t *testing.T) {
	// Given: a freshly indexed agreement
	f, _ := indexedFixture(t)
	checker := NewConsistencyChecker(f.docs, f.vectors)

	// When: checking
	result, err := checker.Check(context.Background())

	// Then: every chunk has a vector and nothing else is stored
	require.NoError(t, err)
	assert.Empty(t, result.Inconsistencies)
	assert.Positive(t, result.Chunks)
	assert.Equal(t, result.Chunks, result.Vectors)

	ok, err := checker.QuickCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsistencyChecker_DetectsIssues(t *testing.T) {
	// Given: an index with a stray vector, a bad key and a lost vector
	ctx := context.Background()
	f, doc := indexedFixture(t)
	orphan := store.Ref{Kind: store.KindChunk, DocumentID: doc.ID + 100, Ordinal: 0}.String()
	require.NoError(t, f.vectors.Add(ctx,
		[]string{orphan, "not-a-ref"},
		[][]float32{unitVector(embed.StaticDimensions), unitVector(embed.StaticDimensions)}))
	lost := store.Ref{Kind: store.KindChunk, DocumentID: doc.ID, Ordinal: 0}.String()
	require.NoError(t, f.vectors.Delete(ctx, []string{lost}))

	checker := NewConsistencyChecker(f.docs, f.vectors)

	// When: checking
	result, err := checker.Check(ctx)

	// Then: each issue is reported with its type
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count(InconsistencyOrphanVector))
	assert.Equal(t, 1, result.Count(InconsistencyInvalidVectorID))
	assert.Equal(t, 1, result.Count(InconsistencyMissingVector))
	for i := 1; i < len(result.Inconsistencies); i++ {
		assert.LessOrEqual(t, result.Inconsistencies[i-1].ID, result.Inconsistencies[i].ID)
	}

	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// When: repairing
	removed, err := checker.Repair(ctx, result.Inconsistencies)

	// Then: orphan and invalid vectors are gone, the missing one stays missing
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, f.vectors.Contains(orphan))
	assert.False(t, f.vectors.Contains("not-a-ref"))

	after, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, after.Inconsistencies, 1)
	assert.Equal(t, InconsistencyMissingVector, after.Inconsistencies[0].Type)
	assert.Equal(t, lost, after.Inconsistencies[0].ID)
}

func TestConsistencyChecker_IgnoresDocumentsNotIndexed(t *testing.T) {
	// Given: an indexed document moved back to pending without vectors
	ctx := context.Background()
	f, doc := indexedFixture(t)
	_, err := f.vectors.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, f.docs.SetStatus(ctx, doc.ID, store.StatusPending, ""))

	// When: checking
	result, err := NewConsistencyChecker(f.docs, f.vectors).Check(ctx)

	// Then: its chunks are not reported missing
	require.NoError(t, err)
	assert.Empty(t, result.Inconsistencies)
	assert.Zero(t, result.Chunks)
}
