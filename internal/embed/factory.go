package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/docindex/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses Ollama API for embeddings
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible /embeddings API
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings, no network needed
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a config string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ollama":
		return ProviderOllama, nil
	case "openai":
		return ProviderOpenAI, nil
	case "static":
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (want ollama, openai or static)", s)
	}
}

// NewEmbedder creates an embedder from configuration.
// When cfg.CacheSize > 0 the result is wrapped in a CachedEmbedder.
// There is no silent fallback: an unreachable Ollama is an error.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOllama:
		ocfg := DefaultOllamaConfig()
		if cfg.Host != "" {
			ocfg.Host = cfg.Host
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			ocfg.Timeout = cfg.Timeout
		}
		ocfg.Dimensions = cfg.Dimensions

		oe, err := NewOllamaEmbedder(ctx, ocfg)
		if err != nil {
			return nil, err
		}
		embedder = oe

	case ProviderOpenAI:
		oe, err := NewOpenAIEmbedder(ctx, OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			MaxRetries: DefaultMaxRetries,
		})
		if err != nil {
			return nil, err
		}
		embedder = oe
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Int("cache_size", cfg.CacheSize))

	if cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}
