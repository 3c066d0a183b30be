package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/screenvault/screenvault/internal/models"
)

const defaultEmbedCacheSize = 1024

// CachingProvider memoizes Embed results in an LRU keyed by the
// content hash. Identical texts (repeated queries, reprocessing runs)
// skip the provider call entirely. Analyze is never cached: images are
// large and repeats are rare.
type CachingProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachingProvider wraps the given provider with an embed memo cache.
func NewCachingProvider(inner Provider, size int) (*CachingProvider, error) {
	if size <= 0 {
		size = defaultEmbedCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{inner: inner, cache: cache}, nil
}

func (p *CachingProvider) Name() string           { return p.inner.Name() }
func (p *CachingProvider) Dimensions() int        { return p.inner.Dimensions() }
func (p *CachingProvider) EmbeddingModel() string { return p.inner.EmbeddingModel() }

func (p *CachingProvider) Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	return p.inner.Analyze(ctx, image, contentType)
}

func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(p.inner.EmbeddingModel(), text)
	if cached, ok := p.cache.Get(key); ok {
		out := make([]float32, len(cached))
		copy(out, cached)
		return out, nil
	}

	embedding, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(embedding))
	copy(stored, embedding)
	p.cache.Add(key, stored)
	return embedding, nil
}

func embedCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
