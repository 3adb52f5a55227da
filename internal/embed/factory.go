package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings, no network or model needed
	ProviderStatic ProviderType = "static"

	// ProviderNone disables semantic retrieval
	ProviderNone ProviderType = "none"
)

// ParseProvider parses a provider name. Unknown names are an error.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderStatic, ProviderNone:
		return p, nil
	case "":
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (valid: ollama, static, none)", s)
	}
}

// Config selects and tunes the embedder built by NewEmbedder.
type Config struct {
	Provider          ProviderType
	Model             string
	Host              string
	Dimensions        int
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64

	// CacheSize is the LRU size for query embeddings; negative disables
	CacheSize int

	// Circuit breaker settings for remote providers
	MaxFailures  int
	ResetTimeout time.Duration
}

// NewEmbedder builds the embedder for cfg. Remote providers are wrapped with
// retry and a circuit breaker, and every provider gets a query cache unless
// CacheSize is negative. ProviderNone returns ErrUnavailable.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	var embedder Embedder

	switch cfg.Provider {
	case ProviderNone:
		return nil, fmt.Errorf("%w: semantic search disabled", ErrUnavailable)

	case ProviderOllama:
		ocfg := DefaultOllamaConfig()
		if cfg.Host != "" {
			ocfg.Host = cfg.Host
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		ocfg.Dimensions = cfg.Dimensions
		if cfg.BatchSize > 0 {
			ocfg.BatchSize = cfg.BatchSize
		}
		if cfg.Timeout > 0 {
			ocfg.Timeout = cfg.Timeout
		}
		if cfg.RequestsPerSecond > 0 {
			ocfg.RequestsPerSecond = cfg.RequestsPerSecond
		}

		ollama, err := NewOllamaEmbedder(ctx, ocfg)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: %w", err)
		}

		var opts []caserrors.CircuitBreakerOption
		if cfg.MaxFailures > 0 {
			opts = append(opts, caserrors.WithMaxFailures(cfg.MaxFailures))
		}
		if cfg.ResetTimeout > 0 {
			opts = append(opts, caserrors.WithResetTimeout(cfg.ResetTimeout))
		}
		embedder = NewResilientEmbedder(ollama,
			caserrors.NewCircuitBreaker("embedder", opts...),
			caserrors.DefaultRetryConfig())

	case ProviderStatic, "":
		embedder = NewStaticEmbedder()

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}

// NewLazyEmbedder returns a process-wide handle that builds the embedder on
// first use.
func NewLazyEmbedder(cfg Config) *Lazy[Embedder] {
	return NewLazy(func(ctx context.Context) (Embedder, error) {
		return NewEmbedder(ctx, cfg)
	})
}
