package engram

import (
	"context"
	"errors"
	"fmt"
)

// Dedup thresholds on cosine similarity. Both boundaries are inclusive at
// the lower edge: exactly 0.95 merge-appends, exactly 0.98 replaces.
const (
	replaceThreshold = 0.98
	mergeThreshold   = 0.95
)

// mergeDecayFactor reduces the older record's relevance on merge-append,
// reflecting supersession pressure without discarding history.
const mergeDecayFactor = 0.9

// SupersedesKey is the metadata key carrying the back-reference from a
// merge-appended record to the older near-duplicate it supersedes. A weak
// reference: the older record may be purged later.
const SupersedesKey = "supersedes"

type writeDecision int

const (
	decisionInsert writeDecision = iota
	decisionMerge
	decisionReplace
)

func decideWrite(similarity float64) writeDecision {
	switch {
	case similarity >= replaceThreshold:
		return decisionReplace
	case similarity >= mergeThreshold:
		return decisionMerge
	default:
		return decisionInsert
	}
}

// Remember writes a memory for an owner, deciding between insert, replace
// and merge-append against the owner's existing records.
//
// The decision sequence runs under a per-owner lock so two concurrent
// writes of the same near-duplicate cannot both insert. Embedding failures
// surface as ErrEmbeddingUnavailable and are never retried here; a vector
// index failure downgrades dedup to the hash-only fast path and sets
// Degraded on the result.
func (s *Store) Remember(ctx context.Context, ownerID, content string, relevance float64, opts WriteOptions) (*WriteResult, error) {
	if err := validateRelevance(relevance); err != nil {
		return nil, err
	}

	cats := normalizeCategories(opts.Categories)
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: empty categories after normalization", ErrConstraintViolation)
	}

	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingUnavailable)
	}
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if err := s.locks.acquire(ctx, ownerID); err != nil {
		return nil, err
	}
	defer s.locks.release(ownerID)

	candidate := &MemoryRecord{
		OwnerID:     ownerID,
		Content:     content,
		ContentHash: hashContent(content),
		Embedding:   embedding,
		Metadata:    opts.Metadata,
		Categories:  cats,
		Relevance:   relevance,
		ExpiresAt:   opts.ExpiresAt,
	}

	// Exact-match fast path.
	existing, err := s.getByHash(ctx, ownerID, candidate.ContentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		rec, err := s.replace(ctx, existing, candidate)
		if err != nil {
			return nil, err
		}
		return &WriteResult{Record: rec, Superseded: existing, Outcome: OutcomeReplaced}, nil
	}

	// Nearest neighbor within the owner partition.
	degraded := false
	var neighbor *ScoredRecord
	nearest, err := s.Nearest(ctx, ownerID, embedding, 1)
	switch {
	case errors.Is(err, ErrIndexDegraded):
		s.log.Warn("dedup falling back to hash-only", "owner", ownerID, "error", err)
		degraded = true
	case err != nil:
		return nil, err
	case len(nearest) > 0:
		neighbor = &nearest[0]
	}

	decision := decisionInsert
	if neighbor != nil {
		decision = decideWrite(neighbor.Similarity)
	}

	switch decision {
	case decisionReplace:
		rec, err := s.replace(ctx, neighbor.Record, candidate)
		if err != nil {
			return nil, err
		}
		return &WriteResult{Record: rec, Superseded: neighbor.Record, Outcome: OutcomeReplaced, Degraded: degraded}, nil

	case decisionMerge:
		rec, err := s.mergeAppend(ctx, neighbor.Record, candidate)
		if err != nil {
			return nil, err
		}
		return &WriteResult{Record: rec, Superseded: neighbor.Record, Outcome: OutcomeMerged, Degraded: degraded}, nil

	default:
		if _, err := s.Insert(ctx, candidate); err != nil {
			return nil, err
		}
		rec, err := s.Get(ctx, ownerID, candidate.ID)
		if err != nil {
			return nil, err
		}
		return &WriteResult{Record: rec, Outcome: OutcomeInserted, Degraded: degraded}, nil
	}
}

// replace keeps the existing ID and overwrites the payload, favoring
// recency over history for near-identical facts. Version increments on
// every accepted replace.
func (s *Store) replace(ctx context.Context, old, candidate *MemoryRecord) (*MemoryRecord, error) {
	metaJSON, err := marshalMetadata(candidate.Metadata)
	if err != nil {
		return nil, err
	}
	catJSON, err := marshalCategories(candidate.Categories)
	if err != nil {
		return nil, err
	}
	blob, err := serializeEmbedding(candidate.Embedding)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE records
		SET content = ?, content_hash = ?, embedding = ?, metadata = ?,
		    categories = ?, relevance = ?, expires_at = ?,
		    version = version + 1, updated_at = datetime('now')
		WHERE id = ? AND owner_id = ?`,
		candidate.Content, candidate.ContentHash, blob, metaJSON,
		catJSON, candidate.Relevance, sqlTimePtr(candidate.ExpiresAt),
		old.ID, old.OwnerID)
	if err != nil {
		return nil, err
	}

	var rowid int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT rowid FROM records WHERE id = ?`, old.ID).Scan(&rowid); err == nil {
		if err := s.indexEmbedding(ctx, rowid, candidate.Embedding); err != nil {
			s.log.Warn("vector index update failed, deferring to compaction",
				"record", old.ID, "error", err)
		}
	}

	return s.Get(ctx, old.OwnerID, old.ID)
}

// mergeAppend keeps both records: the new one carries a back-reference to
// the older near-duplicate, whose relevance is reduced by mergeDecayFactor.
func (s *Store) mergeAppend(ctx context.Context, old, candidate *MemoryRecord) (*MemoryRecord, error) {
	// Tag a copy: candidate.Metadata aliases the caller's WriteOptions map.
	meta := make(map[string]any, len(candidate.Metadata)+1)
	for k, v := range candidate.Metadata {
		meta[k] = v
	}
	meta[SupersedesKey] = old.ID
	candidate.Metadata = meta

	if _, err := s.Insert(ctx, candidate); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE records SET relevance = relevance * ? WHERE id = ? AND owner_id = ?`,
		mergeDecayFactor, old.ID, old.OwnerID); err != nil {
		return nil, err
	}

	return s.Get(ctx, old.OwnerID, candidate.ID)
}
