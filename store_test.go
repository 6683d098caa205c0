package engram

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

const testDims = 4

// testVector builds a unit vector whose cosine similarity to
// testVector(1, 0) is exactly the first component.
func testVector(x float64) []float32 {
	y := math.Sqrt(1 - x*x)
	return []float32{float32(x), float32(y), 0, 0}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "engram.db")
	opts = append([]Option{WithDimensions(testDims)}, opts...)
	store, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func mustInsert(t *testing.T, store *Store, rec *MemoryRecord) string {
	t.Helper()

	id, err := store.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("failed to insert record: %v", err)
	}
	return id
}

func TestOpenAndClose(t *testing.T) {
	store, err := Open(":memory:", WithDimensions(testDims))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestInsertRejectsRelevanceOutOfRange(t *testing.T) {
	store := newTestStore(t)

	for _, relevance := range []float64{-0.1, 1.1, 2} {
		_, err := store.Insert(context.Background(), &MemoryRecord{
			OwnerID:    "u1",
			Content:    "likes window seats",
			Relevance:  relevance,
			Categories: []string{"flights"},
		})
		if !errors.Is(err, ErrConstraintViolation) {
			t.Errorf("relevance %v: expected ErrConstraintViolation, got %v", relevance, err)
		}
	}
}

func TestInsertRejectsEmptyCategories(t *testing.T) {
	store := newTestStore(t)

	for _, cats := range [][]string{nil, {}, {"", "  "}} {
		_, err := store.Insert(context.Background(), &MemoryRecord{
			OwnerID:    "u1",
			Content:    "likes window seats",
			Relevance:  0.8,
			Categories: cats,
		})
		if !errors.Is(err, ErrConstraintViolation) {
			t.Errorf("categories %v: expected ErrConstraintViolation, got %v", cats, err)
		}
	}
}

func TestInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, store, &MemoryRecord{
		OwnerID:    "u1",
		Content:    "likes window seats",
		Embedding:  testVector(1),
		Metadata:   map[string]any{"source": "chat"},
		Categories: []string{"Flights", "travel"},
		Relevance:  0.8,
	})

	rec, err := store.Get(ctx, "u1", id)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}

	if rec.Content != "likes window seats" {
		t.Errorf("expected content preserved, got %q", rec.Content)
	}
	if rec.ContentHash == "" {
		t.Error("expected content hash to be set")
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}
	if rec.Metadata["source"] != "chat" {
		t.Errorf("expected metadata roundtrip, got %v", rec.Metadata)
	}
	if len(rec.Categories) != 2 || rec.Categories[0] != "flights" || rec.Categories[1] != "travel" {
		t.Errorf("expected normalized categories [flights travel], got %v", rec.Categories)
	}
	if len(rec.Embedding) != testDims {
		t.Errorf("expected %d-dim embedding, got %d", testDims, len(rec.Embedding))
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "u1", "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOwnerIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, store, &MemoryRecord{
		OwnerID:    "u1",
		Content:    "likes window seats",
		Embedding:  testVector(1),
		Categories: []string{"flights"},
		Relevance:  0.8,
	})

	if _, err := store.Get(ctx, "u2", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound across owners, got %v", err)
	}
}

func TestSoftDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, store, &MemoryRecord{
		OwnerID:    "u1",
		Content:    "likes window seats",
		Embedding:  testVector(1),
		Categories: []string{"flights"},
		Relevance:  0.8,
	})

	ok, err := store.SoftDelete(ctx, "u1", id)
	if err != nil {
		t.Fatalf("failed to soft delete: %v", err)
	}
	if !ok {
		t.Error("expected first soft delete to report true")
	}

	// immediately invisible on the normal read path
	if _, err := store.Get(ctx, "u1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after soft delete, got %v", err)
	}

	ok, err = store.SoftDelete(ctx, "u1", id)
	if err != nil {
		t.Fatalf("failed on repeat soft delete: %v", err)
	}
	if ok {
		t.Error("expected repeat soft delete to report false")
	}
}

func TestSoftDeleteMissingRecord(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.SoftDelete(context.Background(), "u1", "no-such-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected false for missing record")
	}
}

func TestHardDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, store, &MemoryRecord{
		OwnerID:    "u1",
		Content:    "likes window seats",
		Embedding:  testVector(1),
		Categories: []string{"flights"},
		Relevance:  0.8,
	})

	if _, err := store.SoftDelete(ctx, "u1", id); err != nil {
		t.Fatalf("failed to soft delete: %v", err)
	}

	// cutoff in the future covers the just-deleted record
	n, err := store.HardDeleteBefore(ctx, "u1", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to hard delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record hard deleted, got %d", n)
	}

	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM records WHERE id = ?`, id).Scan(&count); err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if count != 0 {
		t.Errorf("expected record physically removed, got %d rows", count)
	}
}

func TestHardDeleteSkipsActiveRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, &MemoryRecord{
		OwnerID:    "u1",
		Content:    "likes window seats",
		Embedding:  testVector(1),
		Categories: []string{"flights"},
		Relevance:  0.8,
	})

	// active records never skip straight to hard deletion
	n, err := store.HardDeleteBefore(ctx, "u1", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to hard delete: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no active records deleted, got %d", n)
	}
}

func TestCountActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"fact one", "fact two"} {
		mustInsert(t, store, &MemoryRecord{
			OwnerID:    "u1",
			Content:    content,
			Embedding:  testVector(1),
			Categories: []string{"misc"},
			Relevance:  0.8,
		})
	}

	n, err := store.CountActive(ctx, "u1")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 active records, got %d", n)
	}

	n, err = store.CountActive(ctx, "u2")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 records for other owner, got %d", n)
	}
}

func TestNearestOrdersBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		content string
		x       float64
	}{
		{"far fact", 0.2},
		{"near fact", 0.9},
		{"middle fact", 0.6},
	} {
		mustInsert(t, store, &MemoryRecord{
			OwnerID:    "u1",
			Content:    tc.content,
			Embedding:  testVector(tc.x),
			Categories: []string{"misc"},
			Relevance:  0.8,
		})
	}

	results, err := store.Nearest(ctx, "u1", testVector(1), 3)
	if err != nil {
		t.Fatalf("failed to query nearest: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	want := []string{"near fact", "middle fact", "far fact"}
	for i, w := range want {
		if results[i].Record.Content != w {
			t.Errorf("position %d: expected %q, got %q", i, w, results[i].Record.Content)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Error("expected similarity descending")
		}
	}
}
