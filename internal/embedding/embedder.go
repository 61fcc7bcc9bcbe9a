// Package embedding converts text into fixed-dimension semantic vectors.
// Single-item embeds are cached by content hash with a bounded TTL; losing
// the cache never loses correctness, only recomputation cost.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// Model is the OpenAI model used for generating embeddings.
	Model = "text-embedding-3-small"

	// Dimension is the vector size for text-embedding-3-small.
	// This matches vectorindex.DefaultDimension.
	Dimension = 1536

	// CacheTTL bounds how long a cached embedding stays valid.
	CacheTTL = 24 * time.Hour
)

// ErrEmptyInput is returned when text to embed is empty or blank.
// It is rejected before any I/O.
var ErrEmptyInput = errors.New("text must be non-empty")

// Backend is the external text-embedding collaborator. Implementations must
// return one vector per input, in input order, all of the same dimension.
type Backend interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder is the embedding gateway: it validates input, consults the TTL
// cache for single-item calls, and delegates misses to the backend. Batch
// calls bypass the cache entirely (throughput path) but must never corrupt
// it, so they neither read nor write entries.
type Embedder struct {
	backend Backend
	dim     int
	cache   *gocache.Cache
}

// NewEmbedder creates an Embedder over the given backend. If dim is 0,
// Dimension is used. Vectors from differently-configured backends live in
// different spaces; downstream components must not mix them.
func NewEmbedder(backend Backend, dim int) *Embedder {
	if dim <= 0 {
		dim = Dimension
	}
	return &Embedder{
		backend: backend,
		dim:     dim,
		cache:   gocache.New(CacheTTL, 10*time.Minute),
	}
}

// Dimension returns the fixed output dimensionality.
func (e *Embedder) Dimension() int {
	return e.dim
}

// Embed converts a single text into its embedding vector. A cache hit
// within the TTL window short-circuits backend inference and returns the
// identical vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	key := cacheKey(text)
	if cached, ok := e.cache.Get(key); ok {
		return cached.([]float32), nil
	}

	vectors, err := e.backend.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) != e.dim {
		return nil, fmt.Errorf("backend returned unexpected shape for single embed")
	}

	e.cache.Set(key, vectors[0], gocache.DefaultExpiration)
	return vectors[0], nil
}

// EmbedBatch converts multiple texts into embedding vectors. Results are
// identical to per-item Embed calls with the same backend configuration.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyInput
		}
	}

	vectors, err := e.backend.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// cacheKey derives the cache key from a content hash of the text.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// OpenAIBackend implements Backend against the OpenAI embeddings API,
// retrying rate-limit errors with exponential backoff. Other errors are
// permanent and fail immediately.
type OpenAIBackend struct {
	client *Client
	model  string
}

// NewOpenAIBackend creates a backend using the given client. An empty model
// selects Model.
func NewOpenAIBackend(client *Client, model string) *OpenAIBackend {
	if model == "" {
		model = Model
	}
	return &OpenAIBackend{client: client, model: model}
}

// EmbedMany requests embeddings for all texts in one API call.
func (b *OpenAIBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := b.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: b.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // retry with backoff
			}
			return backoff.Permanent(err)
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b2 := backoff.NewExponentialBackOff()
	b2.InitialInterval = 500 * time.Millisecond
	b2.MaxInterval = 10 * time.Second
	b2.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b2, ctx)); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// The API returns float64, but the index stores float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
