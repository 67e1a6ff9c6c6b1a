package retrieval

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"policyeval/internal/reasoning"
)

const DefaultCacheSize = 2048

type cacheKey struct {
	query bool
	text  string
}

// CachedEmbedder keeps a bounded LRU of embeddings keyed by task and exact text.
// Cached vectors are shared and must not be modified.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[cacheKey, []float32]
}

func NewCachedEmbedder(next Embedder, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[cacheKey, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// EmbedDocuments sends only the distinct uncached texts to the wrapped embedder, in
// a single batch.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var misses []string

	for i, t := range texts {
		if vec, ok := c.cache.Get(cacheKey{text: t}); ok {
			out[i] = vec
			continue
		}
		if _, queued := pending[t]; !queued {
			misses = append(misses, t)
		}
		pending[t] = append(pending[t], i)
	}

	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedDocuments(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d embeddings", reasoning.ErrEmbeddingCount, len(misses), len(vecs))
	}

	for j, t := range misses {
		c.cache.Add(cacheKey{text: t}, vecs[j])
		for _, i := range pending[t] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey{query: true, text: text}
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}
