package embedding

import (
	"fmt"
	"time"

	"github.com/hyperjump/hantei/internal/config"
)

// New builds the embedder selected by cfg.Provider and wraps it with an LRU
// cache. Unknown providers are an error rather than a silent fallback: the
// provider choice determines the embedding-function version, and a surprise
// substitution would poison every similarity downstream.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "", "hash":
		inner = NewHashEmbedder(cfg.Dimensions, cfg.Version)
	case "onnx":
		inner, err = NewONNXEmbedder(cfg.ModelPath, cfg.Version, cfg.Dimensions, cfg.MaxTokens)
	case "remote":
		inner, err = NewRemoteEmbedder(RemoteConfig{
			BaseURL:    cfg.Endpoint,
			APIKeyEnv:  cfg.APIKeyEnv,
			Model:      cfg.Model,
			Version:    cfg.Version,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(inner, cfg.CacheSize), nil
}
