package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
)

// Embedder turns item and query text into vectors with a single call to the
// embedding service. It never retries: a failed item is skipped by the caller.
type Embedder struct {
	client llm.Embedder
	cache  *cache.Cache
}

// NewEmbedder caches query embeddings for cacheTTL. A non-positive TTL
// disables the cache.
func NewEmbedder(client llm.Embedder, cacheTTL time.Duration) *Embedder {
	e := &Embedder{client: client}
	if cacheTTL > 0 {
		e.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return e
}

// Model names the embedding model producing the vectors.
func (e *Embedder) Model() string {
	return e.client.Model()
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedQuery is Embed with the short-lived query cache in front of it.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cache == nil {
		return e.Embed(ctx, text)
	}
	key := e.Model() + "\x00" + text
	if v, ok := e.cache.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.SetDefault(key, vec)
	return vec, nil
}
