package engram

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// QueryKey fingerprints a search so caller-side TTL caches can key on it.
// The encoding is canonical: metadata keys are sorted and categories are
// normalized the same way Search normalizes them, so any two calls that
// Search treats identically produce the same key.
//
// The store itself never caches; it only guarantees that identical inputs
// against an unchanged store return identical output.
func QueryKey(ownerID string, vector []float32, opts SearchOptions) string {
	h := xxhash.New()

	writeString := func(s string) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	writeString(ownerID)

	var buf [4]byte
	for _, f := range vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		h.Write(buf[:])
	}

	binary.LittleEndian.PutUint32(buf[:], uint32(opts.Limit))
	h.Write(buf[:])

	minSim := effectiveMinSimilarity(opts.MinSimilarity)
	var f8 [8]byte
	binary.LittleEndian.PutUint64(f8[:], math.Float64bits(minSim))
	h.Write(f8[:])

	keys := make([]string, 0, len(opts.Metadata))
	for k := range opts.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(k)
		writeString(canonicalValue(opts.Metadata[k]))
	}

	cats := normalizeCategories(opts.Categories)
	sort.Strings(cats)
	for _, c := range cats {
		writeString(c)
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
