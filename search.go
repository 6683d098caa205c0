package engram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// overFetchFactor widens the ANN candidate set so that metadata, category
// and threshold filtering can still fill the caller's limit.
const overFetchFactor = 4

// Search runs hybrid retrieval for an owner: ANN candidates, then metadata
// subset containment, category intersection and the similarity cutoff,
// ordered by similarity descending with deterministic tie-breaks.
//
// Identical inputs against an unchanged store return identical output, so
// results are safe to cache by QueryKey. When the vector index fails the
// engine falls back to an exact scan of the owner's active records and sets
// Degraded on the result.
func (s *Store) Search(ctx context.Context, ownerID string, vector []float32, opts SearchOptions) (*SearchResult, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrConstraintViolation)
	}
	minSim := effectiveMinSimilarity(opts.MinSimilarity)
	if minSim < 0 || minSim > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v outside [0,1]", ErrConstraintViolation, minSim)
	}

	degraded := false
	candidates, err := s.Nearest(ctx, ownerID, vector, opts.Limit*overFetchFactor)
	if errors.Is(err, ErrIndexDegraded) {
		s.log.Warn("retrieval falling back to exact scan", "owner", ownerID, "error", err)
		candidates, err = s.scanOwner(ctx, ownerID, vector)
		degraded = true
	}
	if err != nil {
		return nil, err
	}

	filterCats := normalizeCategories(opts.Categories)

	kept := candidates[:0]
	for _, c := range candidates {
		if !metadataSubset(c.Record.Metadata, opts.Metadata) {
			continue
		}
		if len(filterCats) > 0 && !intersects(c.Record.Categories, filterCats) {
			continue
		}
		if c.Similarity < minSim {
			continue
		}
		kept = append(kept, c)
	}

	sortScored(kept)

	// No automatic re-fetch when filtering leaves fewer than Limit results:
	// an unbounded widening loop risks latency blowups. Callers see Partial
	// instead.
	partial := len(kept) < opts.Limit
	if len(kept) > opts.Limit {
		kept = kept[:opts.Limit]
	}

	return &SearchResult{Records: kept, Partial: partial, Degraded: degraded}, nil
}

// SearchText embeds the query and searches with it.
func (s *Store) SearchText(ctx context.Context, ownerID, query string, opts SearchOptions) (*SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingUnavailable)
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return s.Search(ctx, ownerID, vector, opts)
}

// scanOwner is the exact-scan fallback: every active record for the owner,
// scored in Go. Slower but correct when the index is unavailable.
func (s *Store) scanOwner(ctx context.Context, ownerID string, vector []float32) ([]ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns("")+`
		FROM records
		WHERE owner_id = ? AND is_deleted = 0`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{
			Record:     rec,
			Similarity: cosineSimilarity(vector, rec.Embedding),
		})
	}
	return results, rows.Err()
}

// effectiveMinSimilarity resolves the threshold sentinels: the zero value
// selects the default and MinSimilarityAll lifts the cutoff entirely.
func effectiveMinSimilarity(v float64) float64 {
	switch v {
	case MinSimilarityAll:
		return 0
	case 0:
		return DefaultMinSimilarity
	default:
		return v
	}
}

// sortScored orders by similarity descending; ties break on relevance, then
// recency, then ID so ordering is stable for identical inputs.
func sortScored(records []ScoredRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Record.Relevance != b.Record.Relevance {
			return a.Record.Relevance > b.Record.Relevance
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

// metadataSubset reports whether every filter key is present on the record
// with an equal value. Values compare by canonical JSON form, so int/float
// differences from the storage roundtrip do not break matches.
func metadataSubset(recordMeta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := recordMeta[k]
		if !ok || canonicalValue(got) != canonicalValue(want) {
			return false
		}
	}
	return true
}

func canonicalValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// intersects reports whether the two category sets share any element.
func intersects(recordCats, filterCats []string) bool {
	for _, rc := range recordCats {
		for _, fc := range filterCats {
			if rc == fc {
				return true
			}
		}
	}
	return false
}
