package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	ollama "github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Token limits
	JinaTokenLimit   = 8192
	OpenAITokenLimit = 8191
	OllamaTokenLimit = 2048
	LocalTokenLimit  = 512

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// ProviderOptions overrides provider defaults
type ProviderOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	TokenLimit int
}

// base carries what every provider shares
type base struct {
	provider   string
	model      string
	dimension  int
	tokenLimit int
	cache      *Cache
}

func newBase(provider, model string, dimension, tokenLimit int, opts ProviderOptions, cache *Cache) base {
	if opts.Model != "" {
		model = opts.Model
	}
	if opts.TokenLimit > 0 {
		tokenLimit = opts.TokenLimit
	}
	return base{provider: provider, model: model, dimension: dimension, tokenLimit: tokenLimit, cache: cache}
}

func (b *base) Dimension() int    { return b.dimension }
func (b *base) Provider() string  { return b.provider }
func (b *base) Model() string     { return b.model }
func (b *base) TokenLimit() int   { return b.tokenLimit }
func (b *base) MaxBatchSize() int { return MaxBatchSize }

// batch serves cached texts from the cache and sends the rest to call,
// retrying with backoff, then caches the fresh results.
func (b *base) batch(ctx context.Context, req BatchEmbeddingRequest, call func(ctx context.Context, texts []string, model string) ([][]float32, error)) (*BatchEmbeddingResponse, error) {
	if err := validateTexts(req.Texts); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}
	model := req.Model
	if model == "" {
		model = b.model
	}

	vectors := make([][]float32, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if b.cache != nil {
			if v, ok := b.cache.Get(model, text); ok {
				vectors[i] = v
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		fresh, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
			return call(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, b.provider, err)
		}
		if len(fresh) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(fresh))
		}
		for j, i := range missing {
			vectors[i] = fresh[j]
			if b.cache != nil {
				b.cache.Add(model, texts[j], fresh[j])
			}
		}
	}

	resp := &BatchEmbeddingResponse{
		Embeddings: make([]*Embedding, len(vectors)),
		Provider:   b.provider,
		Model:      model,
	}
	for i, v := range vectors {
		resp.Embeddings[i] = &Embedding{Vector: v, Dimension: len(v), Provider: b.provider, Model: model}
	}
	return resp, nil
}

func (b *base) single(ctx context.Context, req EmbeddingRequest, batch func(context.Context, BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)) (*Embedding, error) {
	resp, err := batch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}

// JinaProvider implements Embedder using the Jina AI HTTP API
type JinaProvider struct {
	base
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(opts ProviderOptions, cache *Cache) (*JinaProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	endpoint := jinaEndpoint
	if opts.BaseURL != "" {
		endpoint = opts.BaseURL
	}
	return &JinaProvider{
		base:       newBase(ProviderJina, DefaultJinaModel, JinaDimension, JinaTokenLimit, opts, cache),
		apiKey:     opts.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (j *JinaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return j.single(ctx, req, j.GenerateBatch)
}

func (j *JinaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return j.batch(ctx, req, j.callAPI)
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if !retryableStatus(resp.StatusCode) {
			return nil, permanent(err)
		}
		return nil, err
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sort.Slice(apiResp.Data, func(a, b int) bool { return apiResp.Data[a].Index < apiResp.Data[b].Index })
	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider implements Embedder with the go-openai client. BaseURL
// points it at any OpenAI compatible endpoint.
type OpenAIProvider struct {
	base
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(opts ProviderOptions, cache *Cache) (*OpenAIProvider, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIProvider{
		base:   newBase(ProviderOpenAI, DefaultOpenAIModel, OpenAIDimension, OpenAITokenLimit, opts, cache),
		client: openai.NewClientWithConfig(cfg),
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return o.single(ctx, req, o.GenerateBatch)
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return o.batch(ctx, req, o.callAPI)
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && !retryableStatus(apiErr.HTTPStatusCode) {
		return nil, permanent(fmt.Errorf("api call: %w", err))
	}
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	sort.Slice(resp.Data, func(a, b int) bool { return resp.Data[a].Index < resp.Data[b].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// OllamaProvider implements Embedder against a local Ollama server
type OllamaProvider struct {
	base
	client *ollama.Client
}

// NewOllamaProvider connects to BaseURL, or to OLLAMA_HOST when empty
func NewOllamaProvider(opts ProviderOptions, cache *Cache) (*OllamaProvider, error) {
	var client *ollama.Client
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama url %q: %w", opts.BaseURL, err)
		}
		client = ollama.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	} else {
		c, err := ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		client = c
	}
	return &OllamaProvider{
		base:   newBase(ProviderOllama, DefaultOllamaModel, OllamaDimension, OllamaTokenLimit, opts, cache),
		client: client,
	}, nil
}

func (l *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return l.single(ctx, req, l.GenerateBatch)
}

func (l *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return l.batch(ctx, req, l.callAPI)
}

func (l *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := l.client.Embed(ctx, &ollama.EmbedRequest{
		Model: model,
		Input: texts,
	})
	var statusErr ollama.StatusError
	if errors.As(err, &statusErr) && !retryableStatus(statusErr.StatusCode) {
		return nil, permanent(fmt.Errorf("api call: %w", err))
	}
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	return resp.Embeddings, nil
}

func (l *OllamaProvider) Close() error {
	return nil
}

// LocalProvider produces deterministic pseudo-embeddings from a content
// hash. It needs no network and is used for tests and offline indexing.
type LocalProvider struct {
	base
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		base: newBase(ProviderLocal, "local-embeddings", LocalDimension, LocalTokenLimit, ProviderOptions{}, cache),
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return l.single(ctx, req, l.GenerateBatch)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return l.batch(ctx, req, func(ctx context.Context, texts []string, _ string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = hashVector(text, LocalDimension)
		}
		return vectors, ctx.Err()
	})
}

func (l *LocalProvider) Close() error {
	return nil
}

// hashVector expands SHA-256 of text into a unit vector of size dim
func hashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < dim; i++ {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4:])
		vector[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}
	return NormalizeVector(vector)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
