package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock generates deterministic embeddings from a text hash. Useful for
// local development and wiring tests without an embedding service.
type Mock struct {
	dimensions int
}

func NewMock(dimensions int) *Mock {
	return &Mock{dimensions: dimensions}
}

func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG keyed on the text hash, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

func (m *Mock) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
