package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/shelf/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server (default)
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible /embeddings endpoint
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings, offline and deterministic
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a string to ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOllama, "":
		return ProviderOllama, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderStatic:
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (want ollama, openai or static)", s)
	}
}

// NewEmbedder builds the configured provider. Provider calls are paced by
// embeddings.call_delay and results are cached in memory. There is no
// silent fallback: an unavailable provider is an error.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	provider, err := ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return nil, err
	}

	var base Embedder
	switch provider {
	case ProviderStatic:
		return NewStaticEmbedder(cfg.Embeddings.Dimensions), nil

	case ProviderOpenAI:
		base, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.Embeddings.OpenAIBaseURL,
			Model:      modelOr(cfg.Embeddings.Model, DefaultOpenAIModel),
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    cfg.EmbedTimeout(),
			MaxRetries: DefaultMaxRetries,
		})

	default:
		base, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      modelOr(cfg.Embeddings.Model, DefaultOllamaModel),
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    cfg.EmbedTimeout(),
			MaxRetries: DefaultMaxRetries,
		})
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("embedder_ready",
		slog.String("model", base.ModelName()),
		slog.Int("dimensions", base.Dimensions()),
		slog.Duration("call_delay", cfg.CallDelay()))

	return NewCachedEmbedder(NewPacedEmbedder(base, cfg.CallDelay()), cfg.Embeddings.CacheSize), nil
}

// modelOr keeps a model name that belongs to the provider. The config
// default is an Ollama model, which would be wrong for OpenAI.
func modelOr(model, fallback string) string {
	if model == "" || (fallback == DefaultOpenAIModel && model == DefaultOllamaModel) {
		return fallback
	}
	return model
}
