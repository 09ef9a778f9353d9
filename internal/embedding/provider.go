package embedding

import (
	"fmt"

	"github.com/hyperjump/passage/internal/config"
	"go.uber.org/zap"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// NewFromConfig builds the configured provider wrapped in an LRU cache. The openai
// provider falls back to the mock provider when no API key is available.
func NewFromConfig(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var inner Embedder
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			logger.Warn("no OpenAI API key configured, using mock embeddings",
				zap.Int("dimensions", cfg.Dimensions))
			inner = NewMockEmbedder(cfg.Dimensions)
			break
		}
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case ProviderONNX:
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = e
	case ProviderMock:
		inner = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: openai, onnx, mock)", cfg.Provider)
	}
	logger.Info("embedding provider ready",
		zap.String("model", inner.Model()),
		zap.Int("dimensions", inner.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize))
	return WithCache(inner, cfg.CacheSize), nil
}
