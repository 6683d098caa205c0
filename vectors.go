package engram

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

func serializeEmbedding(embedding []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(embedding)
}

func deserializeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// cosineSimilarity computes 1 - cosine_distance in float64, clamped to
// [0,1]. Dedup and retrieval decisions use this, not the float32 distance
// reported by the index; the index only nominates candidates.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// indexEmbedding adds or replaces the vec entry for a record rowid.
func (s *Store) indexEmbedding(ctx context.Context, rowid int64, embedding []float32) error {
	blob, err := serializeEmbedding(embedding)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vec_records WHERE record_rowid = ?`, rowid); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vec_records (record_rowid, embedding) VALUES (?, ?)`,
		rowid, blob)
	return err
}

func (s *Store) deleteEmbedding(ctx context.Context, rowid int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vec_records WHERE record_rowid = ?`, rowid)
	return err
}

// widenFactor grows the KNN candidate set between rounds when another
// owner's vectors crowd the global top of the index.
const widenFactor = 4

// Nearest returns up to k active records for the owner ordered by
// similarity descending. The vec table is shared across owners and its KNN
// scan cannot see the owner filter, so the candidate set widens until it
// either yields k of the owner's rows or covers the whole index. Other
// owners' vectors can slow the lookup down but never mask a neighbor: an
// owner row inside the global top-n is always nearer than any owner row
// outside it.
func (s *Store) Nearest(ctx context.Context, ownerID string, vector []float32, k int) ([]ScoredRecord, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrConstraintViolation)
	}

	blob, err := serializeEmbedding(vector)
	if err != nil {
		return nil, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vec_records`).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexDegraded, err)
	}
	if total == 0 {
		return nil, nil
	}

	for fetch := k; ; fetch *= widenFactor {
		if fetch > total {
			fetch = total
		}

		results, err := s.nearestWithin(ctx, ownerID, blob, vector, fetch)
		if err != nil {
			return nil, err
		}

		if len(results) >= k || fetch == total {
			if len(results) > k {
				results = results[:k]
			}
			return results, nil
		}
	}
}

// nearestWithin filters the global top-n KNN candidates down to the owner's
// active records.
func (s *Store) nearestWithin(ctx context.Context, ownerID string, blob []byte, vector []float32, n int) ([]ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns("r")+`
		FROM vec_records v
		JOIN records r ON r.rowid = v.record_rowid
		WHERE r.owner_id = ?
		  AND r.is_deleted = 0
		  AND v.embedding MATCH ?
		  AND k = ?
		ORDER BY v.distance`,
		ownerID, blob, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexDegraded, err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexDegraded, err)
	}

	sortScored(results)
	return results, nil
}
