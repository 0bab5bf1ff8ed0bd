package embedder

import (
	"fmt"
	"os"
	"strings"

	"github.com/dshills/kbsync/internal/config"
)

// Environment variables holding provider credentials
const (
	EnvJinaAPIKey   = config.EnvJinaAPIKey
	EnvOpenAIAPIKey = config.EnvOpenAIAPIKey
)

// New creates the embedder described by cfg. An empty provider is resolved
// by DetectProvider. A positive RateLimit wraps the provider in a limiter.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	opts := ProviderOptions{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		TokenLimit: cfg.TokenLimit,
	}

	var emb Embedder
	var err error
	switch provider {
	case ProviderJina:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvJinaAPIKey)
		}
		emb, err = NewJinaProvider(opts, cache)
	case ProviderOpenAI:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
		emb, err = NewOpenAIProvider(opts, cache)
	case ProviderOllama:
		emb, err = NewOllamaProvider(opts, cache)
	case ProviderLocal:
		emb, err = NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		emb = NewRateLimited(emb, cfg.RateLimit, cfg.Burst)
	}
	return emb, nil
}

// DetectProvider picks a provider from the environment: an explicit
// KBSYNC_EMBEDDING_PROVIDER, then whichever API key is present, then local.
func DetectProvider() string {
	if provider := os.Getenv(config.EnvEmbeddingProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
