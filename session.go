package engram

import (
	"context"
	"time"
)

// RememberSession writes a session memory: same shape as a regular record
// but time-bound. It is never promoted to a durable memory; the Maintainer
// soft-deletes it once the TTL passes.
func (s *Store) RememberSession(ctx context.Context, ownerID, content string, relevance float64, ttl time.Duration, opts WriteOptions) (*WriteResult, error) {
	expires := time.Now().UTC().Add(ttl)
	opts.ExpiresAt = &expires
	return s.Remember(ctx, ownerID, content, relevance, opts)
}

// ExpireSessions soft-deletes session memories past their expires_at. The
// batch commits atomically; records then follow the normal
// soft-deleted → hard-deleted path through the retention window.
func (s *Store) ExpireSessions(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_records WHERE record_rowid IN (
			SELECT rowid FROM records
			WHERE is_deleted = 0 AND expires_at IS NOT NULL AND expires_at <= datetime('now')
		)`); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE records
		SET is_deleted = 1, deleted_at = datetime('now'), updated_at = datetime('now')
		WHERE is_deleted = 0 AND expires_at IS NOT NULL AND expires_at <= datetime('now')`)
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
