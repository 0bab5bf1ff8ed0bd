package embedder

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a provider. Every GenerateBatch or
// GenerateEmbedding call consumes one token.
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls with the given burst
func NewRateLimited(inner Embedder, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		Embedder: inner,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.GenerateEmbedding(ctx, req)
}

func (r *RateLimited) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.GenerateBatch(ctx, req)
}
