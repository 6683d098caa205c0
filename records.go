package engram

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// recordColumns lists the record columns with an optional table alias, so
// plain selects and vec joins share one scan path.
func recordColumns(alias string) string {
	cols := []string{
		"id", "owner_id", "content", "content_hash", "embedding",
		"metadata", "categories", "relevance", "is_deleted", "version",
		"expires_at", "deleted_at", "created_at", "updated_at",
	}
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*MemoryRecord, error) {
	var (
		rec       MemoryRecord
		blob      []byte
		metaJSON  string
		catJSON   string
		deleted   int
		expiresAt sql.NullTime
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Content, &rec.ContentHash, &blob,
		&metaJSON, &catJSON, &rec.Relevance, &deleted, &rec.Version,
		&expiresAt, &deletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Embedding = deserializeEmbedding(blob)
	rec.Deleted = deleted != 0
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}

	if rec.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.Categories, err = unmarshalCategories(catJSON); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}

	return &rec, nil
}

func validateRelevance(relevance float64) error {
	if relevance < 0 || relevance > 1 {
		return fmt.Errorf("%w: relevance %v outside [0,1]", ErrConstraintViolation, relevance)
	}
	return nil
}

// Insert stores a record and adds it to the vector index. The record is
// validated first: relevance must be in [0,1] and the category set must be
// non-empty after normalization. The durable write commits before the index
// update; an index failure is logged and reconciled by the next compaction
// pass rather than rolling back the record.
func (s *Store) Insert(ctx context.Context, rec *MemoryRecord) (string, error) {
	if err := validateRelevance(rec.Relevance); err != nil {
		return "", err
	}

	cats := normalizeCategories(rec.Categories)
	if len(cats) == 0 {
		return "", fmt.Errorf("%w: empty categories after normalization", ErrConstraintViolation)
	}
	rec.Categories = cats

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ContentHash == "" {
		rec.ContentHash = hashContent(rec.Content)
	}

	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return "", err
	}
	catJSON, err := marshalCategories(rec.Categories)
	if err != nil {
		return "", err
	}

	var blob []byte
	if len(rec.Embedding) > 0 {
		if blob, err = serializeEmbedding(rec.Embedding); err != nil {
			return "", err
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, owner_id, content, content_hash, embedding,
		                     metadata, categories, relevance, version, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Content, rec.ContentHash, blob,
		metaJSON, catJSON, rec.Relevance, max(rec.Version, 1), sqlTimePtr(rec.ExpiresAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			// The partial unique index on (owner_id, content_hash) caught a
			// concurrent near-duplicate write. Retrying resolves it through
			// the dedup fast path.
			return "", fmt.Errorf("%w: duplicate content_hash for owner", ErrConcurrentConflict)
		}
		return "", err
	}

	if len(rec.Embedding) > 0 {
		rowid, err := result.LastInsertId()
		if err == nil {
			err = s.indexEmbedding(ctx, rowid, rec.Embedding)
		}
		if err != nil {
			// Record is durable; the index entry is missing until the next
			// compaction pass. Recall is transiently lower, not incorrect.
			s.log.Warn("vector index update failed, deferring to compaction",
				"record", rec.ID, "error", err)
		}
	}

	return rec.ID, nil
}

// Get returns a record by id within an owner partition. Soft-deleted
// records read as ErrNotFound.
func (s *Store) Get(ctx context.Context, ownerID, id string) (*MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns("")+`
		FROM records
		WHERE id = ? AND owner_id = ? AND is_deleted = 0`,
		id, ownerID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SoftDelete flags a record as deleted, keeping it for the retention window.
// Idempotent: returns false when the record is missing or already deleted.
func (s *Store) SoftDelete(ctx context.Context, ownerID, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET is_deleted = 1, deleted_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ? AND owner_id = ? AND is_deleted = 0`,
		id, ownerID)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	// Best effort: retrieval never trusts the index for visibility, so a
	// surviving vec row cannot resurrect the record.
	var rowid int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT rowid FROM records WHERE id = ?`, id).Scan(&rowid); err == nil {
		if err := s.deleteEmbedding(ctx, rowid); err != nil {
			s.log.Warn("vector index cleanup failed, deferring to compaction",
				"record", id, "error", err)
		}
	}

	return true, nil
}

// HardDeleteBefore irreversibly removes the owner's soft-deleted records
// whose deletion predates cutoff. Only the Maintainer calls this on its own;
// it is exported for manual reclamation.
func (s *Store) HardDeleteBefore(ctx context.Context, ownerID string, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_records WHERE record_rowid IN (
			SELECT rowid FROM records
			WHERE owner_id = ? AND is_deleted = 1 AND deleted_at < ?
		)`, ownerID, sqlTime(cutoff)); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM records
		WHERE owner_id = ? AND is_deleted = 1 AND deleted_at < ?`,
		ownerID, sqlTime(cutoff))
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// getByHash returns the active record with the given content hash, or nil.
func (s *Store) getByHash(ctx context.Context, ownerID, hash string) (*MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns("")+`
		FROM records
		WHERE owner_id = ? AND content_hash = ? AND is_deleted = 0`,
		ownerID, hash)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
