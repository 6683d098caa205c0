// Package qcache is a caller-side TTL cache for recall results. The store
// guarantees identical inputs against an unchanged store return identical
// output, so results are cached by engram.QueryKey; TTL bounds staleness
// after writes.
package qcache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/bowerhall/engram"
)

// Searcher is the read side of the store the cache fronts.
type Searcher interface {
	Search(ctx context.Context, ownerID string, vector []float32, opts engram.SearchOptions) (*engram.SearchResult, error)
}

type Cache struct {
	inner Searcher
	cache *ristretto.Cache
	ttl   time.Duration
}

// New fronts a Searcher with a TTL cache. maxCost bounds cache memory in
// bytes (approximated by result count).
func New(inner Searcher, ttl time.Duration, maxCost int64) (*Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{inner: inner, cache: cache, ttl: ttl}, nil
}

// Search returns the cached result for an identical query when fresh,
// otherwise queries the store. Degraded results are never cached: they
// reflect a transient index failure, not store content.
func (c *Cache) Search(ctx context.Context, ownerID string, vector []float32, opts engram.SearchOptions) (*engram.SearchResult, error) {
	key := engram.QueryKey(ownerID, vector, opts)

	if v, ok := c.cache.Get(key); ok {
		if result, ok := v.(*engram.SearchResult); ok {
			return result, nil
		}
	}

	result, err := c.inner.Search(ctx, ownerID, vector, opts)
	if err != nil {
		return nil, err
	}

	if !result.Degraded {
		cost := int64(1 + len(result.Records))
		c.cache.SetWithTTL(key, result, cost, c.ttl)
	}

	return result, nil
}

func (c *Cache) Close() {
	c.cache.Close()
}
