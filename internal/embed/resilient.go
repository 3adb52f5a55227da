package embed

import (
	"context"
	"fmt"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
)

// ResilientEmbedder retries transient failures of an inner embedder and
// stops calling it while its circuit breaker is open. Errors from an open
// circuit wrap ErrUnavailable so that search treats them as a missing
// capability.
type ResilientEmbedder struct {
	inner   Embedder
	breaker *caserrors.CircuitBreaker
	retry   caserrors.RetryConfig
}

// Verify interface implementation at compile time
var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner. A nil breaker gets one named
// "embedder" with default settings.
func NewResilientEmbedder(inner Embedder, breaker *caserrors.CircuitBreaker, retry caserrors.RetryConfig) *ResilientEmbedder {
	if breaker == nil {
		breaker = caserrors.NewCircuitBreaker("embedder")
	}
	if retry.RetryIf == nil {
		retry.RetryIf = func(err error) bool {
			return !caserrors.IsCircuitOpen(err) && IsTransient(err)
		}
	}
	return &ResilientEmbedder{inner: inner, breaker: breaker, retry: retry}
}

// Embed generates embedding for a single text.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := caserrors.RetryWithResult(ctx, r.retry, func() ([]float32, error) {
		return caserrors.CircuitExecute(r.breaker, func() ([]float32, error) {
			return r.inner.Embed(ctx, text)
		})
	})
	return vec, r.classify(err)
}

// EmbedBatch generates embeddings for multiple texts.
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := caserrors.RetryWithResult(ctx, r.retry, func() ([][]float32, error) {
		return caserrors.CircuitExecute(r.breaker, func() ([][]float32, error) {
			return r.inner.EmbedBatch(ctx, texts)
		})
	})
	return vecs, r.classify(err)
}

func (r *ResilientEmbedder) classify(err error) error {
	if err != nil && caserrors.IsCircuitOpen(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// Breaker exposes the circuit breaker for status reporting.
func (r *ResilientEmbedder) Breaker() *caserrors.CircuitBreaker {
	return r.breaker
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (r *ResilientEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (r *ResilientEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available is false while the circuit is open.
func (r *ResilientEmbedder) Available(ctx context.Context) bool {
	if r.breaker.State() == caserrors.StateOpen {
		return false
	}
	return r.inner.Available(ctx)
}

// Close closes the inner embedder.
func (r *ResilientEmbedder) Close() error {
	return r.inner.Close()
}
