package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
)

func fastRetry() caserrors.RetryConfig {
	return caserrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestResilientEmbedder_RetriesTransientFailure(t *testing.T) {
	// Given: an inner embedder that fails twice with a transient error
	inner := newMockEmbedder(4)
	inner.err = &statusError{code: 503, body: "loading model"}
	inner.failures.Store(2)
	r := NewResilientEmbedder(inner, nil, fastRetry())

	// When
	vec, err := r.Embed(context.Background(), "wages")

	// Then: the third attempt succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(3), inner.embedCalls.Load())
}

func TestResilientEmbedder_DoesNotRetryPermanentFailure(t *testing.T) {
	inner := newMockEmbedder(4)
	inner.err = &statusError{code: 400, body: "bad input"}
	inner.failures.Store(5)
	r := NewResilientEmbedder(inner, nil, fastRetry())

	_, err := r.EmbedBatch(context.Background(), []string{"wages"})

	require.Error(t, err)
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestResilientEmbedder_OpenCircuitIsUnavailable(t *testing.T) {
	// Given: a breaker that opens after two failures
	inner := newMockEmbedder(4)
	inner.err = errors.New("connection reset")
	inner.failures.Store(100)
	breaker := caserrors.NewCircuitBreaker("embedder",
		caserrors.WithMaxFailures(2),
		caserrors.WithResetTimeout(time.Hour))
	r := NewResilientEmbedder(inner, breaker, caserrors.RetryConfig{MaxRetries: 0})

	// When: failures trip the breaker
	_, _ = r.Embed(context.Background(), "a")
	_, _ = r.Embed(context.Background(), "b")
	calls := inner.embedCalls.Load()
	_, err := r.Embed(context.Background(), "c")

	// Then: the next call fails fast as unavailable without reaching inner
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, caserrors.ErrCircuitOpen)
	assert.Equal(t, calls, inner.embedCalls.Load())
	assert.Equal(t, caserrors.StateOpen, r.Breaker().State())
	assert.False(t, r.Available(context.Background()))
}

func TestResilientEmbedder_CancellationDoesNotTripBreaker(t *testing.T) {
	inner := newMockEmbedder(4)
	inner.err = context.DeadlineExceeded
	inner.failures.Store(10)
	breaker := caserrors.NewCircuitBreaker("embedder", caserrors.WithMaxFailures(1))
	r := NewResilientEmbedder(inner, breaker, fastRetry())

	for i := 0; i < 3; i++ {
		_, err := r.Embed(context.Background(), "wages")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, caserrors.StateClosed, breaker.State())
}

func TestResilientEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(12)
	r := NewResilientEmbedder(inner, nil, caserrors.DefaultRetryConfig())

	assert.Equal(t, 12, r.Dimensions())
	assert.Equal(t, "mock-model", r.ModelName())
	assert.True(t, r.Available(context.Background()))
	require.NoError(t, r.Close())
	assert.Equal(t, int64(1), inner.closeCalls.Load())
}
