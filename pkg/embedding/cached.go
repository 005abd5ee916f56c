package embedding

import (
	"context"
	"time"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// CachedProvider memoises embeddings keyed by a hash of the text.
// Identical text, notably repeated search queries, skips the inner
// provider entirely. Cache failures degrade to the inner provider and
// are never surfaced to callers.
type CachedProvider struct {
	inner  Provider
	store  cache.Cache
	ttl    time.Duration
	logger observability.Logger
}

// NewCachedProvider wraps inner with the given cache and TTL.
func NewCachedProvider(inner Provider, store cache.Cache, ttl time.Duration, logger observability.Logger) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

func (p *CachedProvider) Name() string { return p.inner.Name() }

func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.EmbeddingKey(text)

	var vec []float32
	if err := p.store.Get(ctx, key, &vec); err == nil && len(vec) == p.inner.Dimensions() {
		return vec, nil
	}

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, key, vec, p.ttl); err != nil {
		p.logger.Debug("Failed to cache embedding", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return vec, nil
}
