package engram

import "testing"

func TestQueryKeyDeterministic(t *testing.T) {
	opts := SearchOptions{
		Limit:      5,
		Metadata:   map[string]any{"trip": "nyc", "legs": 2},
		Categories: []string{"flights", "hotels"},
	}

	a := QueryKey("u1", testVector(1), opts)
	b := QueryKey("u1", testVector(1), opts)
	if a != b {
		t.Errorf("identical queries produced different keys: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %q", a)
	}
}

func TestQueryKeyNormalizesEquivalentQueries(t *testing.T) {
	base := QueryKey("u1", testVector(1), SearchOptions{
		Limit:      5,
		Categories: []string{"flights", "hotels"},
	})

	// category casing, whitespace and order do not change what Search does
	same := QueryKey("u1", testVector(1), SearchOptions{
		Limit:      5,
		Categories: []string{" Hotels ", "FLIGHTS"},
	})
	if same != base {
		t.Error("equivalent category sets must share a key")
	}

	// an explicit threshold equal to the default is the same query
	explicit := QueryKey("u1", testVector(1), SearchOptions{
		Limit:         5,
		MinSimilarity: DefaultMinSimilarity,
		Categories:    []string{"flights", "hotels"},
	})
	if explicit != base {
		t.Error("explicit default threshold must share a key with the implicit one")
	}
}

func TestQueryKeySensitiveToInputs(t *testing.T) {
	base := QueryKey("u1", testVector(1), SearchOptions{Limit: 5})

	variants := map[string]string{
		"owner":     QueryKey("u2", testVector(1), SearchOptions{Limit: 5}),
		"vector":    QueryKey("u1", testVector(0.5), SearchOptions{Limit: 5}),
		"limit":     QueryKey("u1", testVector(1), SearchOptions{Limit: 10}),
		"threshold": QueryKey("u1", testVector(1), SearchOptions{Limit: 5, MinSimilarity: 0.7}),
		"no cutoff": QueryKey("u1", testVector(1), SearchOptions{Limit: 5, MinSimilarity: MinSimilarityAll}),
		"metadata":  QueryKey("u1", testVector(1), SearchOptions{Limit: 5, Metadata: map[string]any{"trip": "nyc"}}),
		"category":  QueryKey("u1", testVector(1), SearchOptions{Limit: 5, Categories: []string{"flights"}}),
	}
	for field, key := range variants {
		if key == base {
			t.Errorf("changing %s did not change the key", field)
		}
	}
}

func TestQueryKeyMetadataOrderIndependent(t *testing.T) {
	a := QueryKey("u1", testVector(1), SearchOptions{
		Limit:    5,
		Metadata: map[string]any{"a": 1, "b": 2, "c": 3},
	})
	b := QueryKey("u1", testVector(1), SearchOptions{
		Limit:    5,
		Metadata: map[string]any{"c": 3, "b": 2, "a": 1},
	})
	if a != b {
		t.Error("metadata key order must not affect the key")
	}
}
