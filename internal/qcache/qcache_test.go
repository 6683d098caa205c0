package qcache

import (
	"context"
	"testing"
	"time"

	"github.com/bowerhall/engram"
)

type countingSearcher struct {
	calls  int
	result *engram.SearchResult
}

func (s *countingSearcher) Search(ctx context.Context, ownerID string, vector []float32, opts engram.SearchOptions) (*engram.SearchResult, error) {
	s.calls++
	return s.result, nil
}

func TestSearchCachesByQueryKey(t *testing.T) {
	inner := &countingSearcher{result: &engram.SearchResult{}}
	c, err := New(inner, time.Minute, 1<<20)
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	vec := []float32{1, 0, 0, 0}
	opts := engram.SearchOptions{Limit: 5}

	if _, err := c.Search(ctx, "u1", vec, opts); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	c.cache.Wait() // ristretto admits asynchronously

	if _, err := c.Search(ctx, "u1", vec, opts); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 store hit, got %d", inner.calls)
	}

	// a different owner is a different key
	if _, err := c.Search(ctx, "u2", vec, opts); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 store hits, got %d", inner.calls)
	}
}

func TestSearchNeverCachesDegraded(t *testing.T) {
	inner := &countingSearcher{result: &engram.SearchResult{Degraded: true}}
	c, err := New(inner, time.Minute, 1<<20)
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	vec := []float32{1, 0, 0, 0}
	opts := engram.SearchOptions{Limit: 5}

	for i := 0; i < 3; i++ {
		if _, err := c.Search(ctx, "u1", vec, opts); err != nil {
			t.Fatalf("search failed: %v", err)
		}
		c.cache.Wait()
	}
	if inner.calls != 3 {
		t.Errorf("expected every degraded search to hit the store, got %d calls", inner.calls)
	}
}
