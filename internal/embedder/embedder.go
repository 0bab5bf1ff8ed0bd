package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid embedding input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// DefaultCacheSize is used when NewCache is given a non-positive size
const DefaultCacheSize = 10000

// Embedding is the vector of one text
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse holds one embedding per requested text, in order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns chunk text into vectors
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch embeds up to MaxBatchSize texts in one call
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string

	// TokenLimit returns the maximum input length of the model in tokens
	TokenLimit() int

	// MaxBatchSize returns the largest number of texts GenerateBatch accepts
	MaxBatchSize() int

	Close() error
}

// Cache keeps vectors of recently embedded texts. Keys include the model, so
// a model change never serves vectors from another embedding space.
type Cache struct {
	entries *lru.Cache[string, []float32]
}

// NewCache creates a cache holding at most size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[string, []float32](size)
	return &Cache{entries: entries}
}

// Get returns a copy of the cached vector of text under model
func (c *Cache) Get(model, text string) ([]float32, bool) {
	v, ok := c.entries.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Add stores a copy of vector
func (c *Cache) Add(model, text string, vector []float32) {
	c.entries.Add(cacheKey(model, text), append([]float32(nil), vector...))
}

// Len returns the number of cached vectors
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.entries.Purge()
}

func cacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// validateTexts rejects empty batches and blank texts; providers answer
// blank input with errors or zero vectors.
func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text at index %d is blank", ErrInvalidInput, i)
		}
	}
	return nil
}
