package embedding

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/config"
)

// Provider names accepted by NewProducer.
const (
	ProviderOllama = "ollama"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// NewProducer builds the embedder selected by cfg.Provider, wrapped in an LRU
// cache when cfg.CacheSize is positive. An ONNX model that cannot be loaded
// falls back to the mock embedder.
func NewProducer(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var producer Embedder
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		producer = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Timeout)
		logger.Info("Using Ollama embeddings", zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model))
	case ProviderONNX:
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
			producer = NewMockEmbedder(cfg.Dimensions)
		} else {
			producer = onnx
			logger.Info("Using ONNX embeddings", zap.String("model_path", cfg.ModelPath))
		}
	case ProviderMock:
		producer = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		producer = NewCachedEmbedder(producer, cfg.CacheSize)
	}
	return producer, nil
}

// NewBatcherFromConfig returns a Batcher over producer using cfg's batch size and field path.
func NewBatcherFromConfig(producer Embedder, cfg config.EmbeddingConfig, logger *zap.Logger) *Batcher {
	return NewBatcher(producer,
		WithBatchSize(cfg.BatchSize),
		WithFieldPath(cfg.FieldPath),
		WithLogger(logger),
	)
}
