package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Vector properties
// ============================================================================

func TestStaticEmbedder_Embed_ReturnsNormalizedVector(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "Employees shall receive two weeks of paid vacation.")

	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 1e-5)
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	text := "The grievance procedure has three steps."

	a, err := NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)
	b, err := NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedder_Embed_BlankInput_ReturnsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, vec, StaticDimensions)
		assert.Zero(t, vectorMagnitude(vec), "text %q", text)
	}
}

func TestStaticEmbedder_SharedVocabulary_IsCloser(t *testing.T) {
	// Given: a query, a related passage and an unrelated passage
	e := NewStaticEmbedder()
	ctx := context.Background()
	query, _ := e.Embed(ctx, "overtime wages")
	related, _ := e.Embed(ctx, "Overtime shall be paid at one and one half times the regular wage.")
	unrelated, _ := e.Embed(ctx, "The employer shall provide safety boots and a parking space.")

	// Then: the related passage is more similar
	assert.Greater(t, cosineSimilarity(query, related), cosineSimilarity(query, unrelated))
}

func TestStaticEmbedder_StemmedWordsShareBuckets(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	a, _ := e.Embed(ctx, "grievances")
	b, _ := e.Embed(ctx, "grievance")
	c, _ := e.Embed(ctx, "holidays")

	assert.Greater(t, cosineSimilarity(a, b), cosineSimilarity(a, c))
}

func TestStaticEmbedder_UnicodeAndLongText(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "Congé annuel payé à l'employé")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 1e-5)

	long := strings.Repeat("article seniority layoff recall ", 5000)
	vec, err = e.Embed(context.Background(), long)
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
}

// ============================================================================
// Batch and lifecycle
// ============================================================================

func TestStaticEmbedder_EmbedBatch_MatchesSingleEmbeds(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"sick leave", "", "bereavement leave"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_Metadata(t *testing.T) {
	e := NewStaticEmbedder()
	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, "static", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestStaticEmbedder_Close(t *testing.T) {
	// Given: a closed embedder
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	// Then: calls fail and it reports unavailable
	_, err := e.Embed(context.Background(), "wages")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.EmbedBatch(context.Background(), []string{"wages"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, e.Available(context.Background()))
}
