// Package embedder turns chunk text into vector embeddings.
//
// Providers: Jina AI (HTTP), OpenAI and compatible endpoints (go-openai),
// Ollama (ollama api client) and a deterministic local provider used for
// tests and offline runs. Every provider shares the same batching path:
// cached texts are served from an LRU keyed by SHA-256 of model and text, the
// rest are sent in a single call retried with exponential backoff.
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: texts,
//	})
//
// Callers must keep batches at or below MaxBatchSize(); the indexer splits
// larger flushes into sub-batches. TokenLimit() feeds the chunker so chunk
// size follows the active model's context window.
//
// # Rate Limiting
//
// When EmbeddingConfig.RateLimit is positive, New wraps the provider in
// RateLimited, which takes one token per call from a golang.org/x/time/rate
// limiter.
package embedder
