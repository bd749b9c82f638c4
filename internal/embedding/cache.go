package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text.
type EmbeddingCache struct {
	cache *lru.Cache[string, []float32]
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 1
	}
	c, _ := lru.New[string, []float32](capacity)
	return &EmbeddingCache{cache: c}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	return c.cache.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.cache.Add(key, value)
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	return c.cache.Len()
}

// CachedEmbedder memoizes another embedder by credential and text, so a credential the
// provider would reject never receives a vector cached for another one.
type CachedEmbedder struct {
	next  Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps next with an LRU cache of size entries.
func NewCachedEmbedder(next Embedder, size int) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: NewEmbeddingCache(size)}
}

// Embed returns the cached vector for credential and text or asks the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text, credential string) ([]float32, error) {
	key := cacheKey(text, credential)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text, credential)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, v)
	return v, nil
}

// cacheKey keeps a digest of the credential rather than the secret itself.
func cacheKey(text, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8]) + ":" + text
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.next.Dimensions() }

// Close closes the wrapped embedder.
func (c *CachedEmbedder) Close() error { return c.next.Close() }
