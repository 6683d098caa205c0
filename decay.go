package engram

import (
	"context"
	"fmt"
	"time"
)

// DecayRelevance applies time decay to records that have not been written
// for longer than idleFor: relevance is multiplied by factor, at most once
// per day per record. The record stays active and updated_at is untouched;
// decay is not an accepted write.
func (s *Store) DecayRelevance(ctx context.Context, idleFor time.Duration, factor float64, batch int) (int64, error) {
	if factor <= 0 || factor >= 1 {
		return 0, fmt.Errorf("%w: decay factor %v outside (0,1)", ErrConstraintViolation, factor)
	}
	if batch <= 0 {
		batch = DefaultMaintenanceConfig.BatchSize
	}

	idleSeconds := int(idleFor.Seconds())

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE records
		SET relevance = relevance * ?, last_decayed_at = datetime('now')
		WHERE rowid IN (
			SELECT rowid FROM records
			WHERE is_deleted = 0
			  AND updated_at < datetime('now', '-%d seconds')
			  AND (last_decayed_at IS NULL OR last_decayed_at < datetime('now', '-1 day'))
			LIMIT %d
		)`, idleSeconds, batch), factor)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// purgeDeletedBefore hard-deletes soft-deleted records across all owners
// whose deletion predates cutoff. Vec rows and records go in one
// transaction so a failed pass commits nothing.
func (s *Store) purgeDeletedBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM vec_records WHERE record_rowid IN (
			SELECT rowid FROM records
			WHERE is_deleted = 1 AND deleted_at < ?
			LIMIT %d
		)`, batch), sqlTime(cutoff)); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM records WHERE rowid IN (
			SELECT rowid FROM records
			WHERE is_deleted = 1 AND deleted_at < ?
			LIMIT %d
		)`, batch), sqlTime(cutoff))
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
