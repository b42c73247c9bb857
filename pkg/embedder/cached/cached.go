// Package cached wraps an embedder.Provider with the process-local embedding
// cache so every embedding path in the core is cache-fronted uniformly.
package cached

import (
	"context"

	"github.com/omnix-ai/recall-go/pkg/cache"
	"github.com/omnix-ai/recall-go/pkg/embedder"
)

// Provider is a cache-fronted embedder. Hits bypass the underlying provider
// entirely; misses call through and populate the cache with the raw vector.
type Provider struct {
	inner embedder.Provider
	cache *cache.EmbeddingCache
}

// New wraps inner with c. Both are required.
func New(inner embedder.Provider, c *cache.EmbeddingCache) *Provider {
	return &Provider{inner: inner, cache: c}
}

// Embed returns the cached vector for text, calling the provider on a miss.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := p.cache.Get(text); ok {
		return vec, nil
	}

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	p.cache.Set(text, vec)
	return vec, nil
}

// EmbedBatch resolves each text through the cache, batching only the misses
// into one provider call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := p.cache.Get(t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		p.cache.Set(missTexts[j], vecs[j])
	}
	return out, nil
}

// Dimensions returns the underlying provider's vector length.
func (p *Provider) Dimensions() int {
	return p.inner.Dimensions()
}

// Close closes the underlying provider. The cache is owned by the caller.
func (p *Provider) Close() error {
	return p.inner.Close()
}
