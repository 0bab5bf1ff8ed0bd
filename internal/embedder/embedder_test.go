package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func TestValidateTexts(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{name: "valid batch", texts: []string{"a", "b"}},
		{name: "nil batch", texts: nil, wantErr: true},
		{name: "empty text", texts: []string{"a", ""}, wantErr: true},
		{name: "whitespace only", texts: []string{" \n\t"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTexts(tt.texts)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("validateTexts() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Errorf("validateTexts() unexpected error = %v", err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("keys are scoped by model", func(t *testing.T) {
		cache := NewCache(10)
		cache.Add("model-a", "text", []float32{1, 2})

		if _, ok := cache.Get("model-b", "text"); ok {
			t.Error("Expected miss for a different model")
		}
		got, ok := cache.Get("model-a", "text")
		if !ok {
			t.Fatal("Expected cache hit")
		}
		if len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Errorf("Get() = %v, want [1 2]", got)
		}
	})

	t.Run("stored vectors are isolated from callers", func(t *testing.T) {
		cache := NewCache(10)
		v := []float32{1, 2}
		cache.Add("m", "text", v)
		v[0] = 99

		got, _ := cache.Get("m", "text")
		got[1] = 99

		again, _ := cache.Get("m", "text")
		if again[0] != 1 || again[1] != 2 {
			t.Errorf("Cached vector was mutated: %v", again)
		}
	})

	t.Run("eviction on capacity", func(t *testing.T) {
		cache := NewCache(2)
		cache.Add("m", "one", []float32{1})
		cache.Add("m", "two", []float32{2})
		cache.Add("m", "three", []float32{3})

		if cache.Len() != 2 {
			t.Errorf("Len() = %d, want 2", cache.Len())
		}
		if _, ok := cache.Get("m", "one"); ok {
			t.Error("Expected least recently used entry to be evicted")
		}
	})

	t.Run("purge", func(t *testing.T) {
		cache := NewCache(0)
		cache.Add("m", "one", []float32{1})
		cache.Purge()
		if cache.Len() != 0 {
			t.Errorf("Len() after purge = %d, want 0", cache.Len())
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					text := fmt.Sprintf("text-%d-%d", i, j)
					cache.Add("m", text, []float32{float32(i), float32(j)})
					cache.Get("m", text)
				}
			}()
		}
		wg.Wait()

		if cache.Len() == 0 {
			t.Error("Cache is empty after concurrent operations")
		}
	})
}

func TestLocalProvider(t *testing.T) {
	provider, err := NewLocalProvider(NewCache(10))
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	defer provider.Close()
	ctx := context.Background()

	if provider.Provider() != ProviderLocal {
		t.Errorf("Provider() = %s, want %s", provider.Provider(), ProviderLocal)
	}
	if provider.TokenLimit() != LocalTokenLimit {
		t.Errorf("TokenLimit() = %d, want %d", provider.TokenLimit(), LocalTokenLimit)
	}

	resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha", "beta", "alpha"}})
	if err != nil {
		t.Fatalf("GenerateBatch() error = %v", err)
	}
	if len(resp.Embeddings) != 3 {
		t.Fatalf("Got %d embeddings, want 3", len(resp.Embeddings))
	}
	for i, emb := range resp.Embeddings {
		if emb.Dimension != LocalDimension || len(emb.Vector) != LocalDimension {
			t.Errorf("Embedding %d: dimension = %d, want %d", i, len(emb.Vector), LocalDimension)
		}
	}
	for i := range resp.Embeddings[0].Vector {
		if resp.Embeddings[0].Vector[i] != resp.Embeddings[2].Vector[i] {
			t.Fatal("Identical texts produced different vectors")
		}
	}

	single, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "beta"})
	if err != nil {
		t.Fatalf("GenerateEmbedding() error = %v", err)
	}
	for i := range single.Vector {
		if single.Vector[i] != resp.Embeddings[1].Vector[i] {
			t.Fatal("Single and batch embeddings differ")
		}
	}

	if _, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Blank text error = %v, want ErrInvalidInput", err)
	}

	big := make([]string, MaxBatchSize+1)
	for i := range big {
		big[i] = fmt.Sprintf("text %d", i)
	}
	if _, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: big}); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("Oversized batch error = %v, want ErrBatchTooLarge", err)
	}
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
		if err != nil || got != 42 {
			t.Errorf("retryWithBackoff() = %d, %v, want 42, nil", got, err)
		}
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		cause := errors.New("unauthorized")
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, permanent(cause)
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if !errors.Is(err, cause) {
			t.Errorf("error = %v, want %v", err, cause)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			calls++
			cancel()
			return 0, errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		wantNorm float64
	}{
		{name: "unit vector", input: []float32{1, 0, 0}, wantNorm: 1},
		{name: "needs normalization", input: []float32{3, 4}, wantNorm: 1},
		{name: "zero vector", input: []float32{0, 0, 0}, wantNorm: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sum float64
			for _, v := range NormalizeVector(tt.input) {
				sum += float64(v * v)
			}
			if norm := math.Sqrt(sum); math.Abs(norm-tt.wantNorm) > 1e-4 {
				t.Errorf("norm = %f, want %f", norm, tt.wantNorm)
			}
		})
	}
}
