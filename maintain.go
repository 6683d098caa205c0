package engram

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Maintainer runs the periodic decay and cleanup pass: session expiry,
// retention purge, relevance decay and index compaction. Exactly one
// Maintainer should run per store.
type Maintainer struct {
	store    *Store
	cfg      MaintenanceConfig
	schedule cron.Schedule
	log      *slog.Logger

	// AfterPass, when set, runs after every successful pass. The daemon
	// hooks snapshot uploads here.
	AfterPass func(ctx context.Context)
}

// NewMaintainer validates the config and parses the cron schedule. Zero
// fields fall back to DefaultMaintenanceConfig.
func NewMaintainer(store *Store, cfg MaintenanceConfig) (*Maintainer, error) {
	def := DefaultMaintenanceConfig
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.DecayAfter <= 0 {
		cfg.DecayAfter = def.DecayAfter
	}
	if cfg.DecayFactor <= 0 {
		cfg.DecayFactor = def.DecayFactor
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule: %w", err)
	}

	return &Maintainer{
		store:    store,
		cfg:      cfg,
		schedule: schedule,
		log:      store.log,
	}, nil
}

// Run blocks until ctx ends, firing RunPass on the configured schedule. A
// failed pass logs and waits for the next tick; it never stops the loop.
func (m *Maintainer) Run(ctx context.Context) {
	for {
		next := m.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Debug("maintainer stopping")
			return
		case <-timer.C:
			if err := m.RunPass(ctx); err != nil {
				m.log.Error("maintenance pass failed", "error", err)
			}
		}
	}
}

// RunPass executes one maintenance pass. Each step commits its own batch
// atomically, so a failure leaves earlier steps applied and later ones
// untouched until the next tick.
func (m *Maintainer) RunPass(ctx context.Context) error {
	expired, err := m.store.ExpireSessions(ctx)
	if err != nil {
		return fmt.Errorf("expire sessions: %w", err)
	}

	purged, err := m.store.purgeDeletedBefore(ctx, time.Now().UTC().Add(-m.cfg.Retention), m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("purge deleted: %w", err)
	}

	decayed, err := m.store.DecayRelevance(ctx, m.cfg.DecayAfter, m.cfg.DecayFactor, m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("decay relevance: %w", err)
	}

	pruned, restored, err := m.store.CompactIndex(ctx)
	if err != nil {
		return fmt.Errorf("compact index: %w", err)
	}

	if err := m.store.recordMaintenanceRun(ctx, "*"); err != nil {
		return fmt.Errorf("record maintenance run: %w", err)
	}

	m.log.Info("maintenance pass complete",
		"expired", expired, "purged", purged, "decayed", decayed,
		"index_pruned", pruned, "index_restored", restored)

	if m.AfterPass != nil {
		m.AfterPass(ctx)
	}
	return nil
}

// CompactIndex reconciles the vec table against the records table: vec rows
// whose record is gone or deleted are dropped, and active records missing a
// vec row (an insert cancelled between the durable write and the index
// update, or a degraded-mode write) are re-indexed from the stored
// embedding. Owners whose entries were restored get their partition's
// maintenance timestamp refreshed.
func (s *Store) CompactIndex(ctx context.Context) (pruned, restored int64, err error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM vec_records WHERE record_rowid NOT IN (
			SELECT rowid FROM records WHERE is_deleted = 0
		)`)
	if err != nil {
		return 0, 0, err
	}
	pruned, _ = result.RowsAffected()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, owner_id, embedding FROM records
		WHERE is_deleted = 0
		  AND embedding IS NOT NULL
		  AND rowid NOT IN (SELECT record_rowid FROM vec_records)`)
	if err != nil {
		return pruned, 0, err
	}
	defer rows.Close()

	type missing struct {
		rowid     int64
		ownerID   string
		embedding []float32
	}
	var toRestore []missing
	for rows.Next() {
		var m missing
		var blob []byte
		if err := rows.Scan(&m.rowid, &m.ownerID, &blob); err != nil {
			return pruned, restored, err
		}
		m.embedding = deserializeEmbedding(blob)
		toRestore = append(toRestore, m)
	}
	if err := rows.Err(); err != nil {
		return pruned, restored, err
	}

	owners := make(map[string]bool)
	for _, m := range toRestore {
		if err := s.indexEmbedding(ctx, m.rowid, m.embedding); err != nil {
			return pruned, restored, err
		}
		restored++
		owners[m.ownerID] = true
	}

	for owner := range owners {
		if err := s.recordMaintenanceRun(ctx, owner); err != nil {
			return pruned, restored, err
		}
	}

	return pruned, restored, nil
}

func (s *Store) recordMaintenanceRun(ctx context.Context, partition string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance_state (partition, last_run)
		VALUES (?, datetime('now'))
		ON CONFLICT(partition) DO UPDATE SET last_run = excluded.last_run`,
		partition)
	return err
}

// LastMaintenanceRun returns when the partition was last maintained. The
// "*" partition tracks full passes.
func (s *Store) LastMaintenanceRun(ctx context.Context, partition string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM maintenance_state WHERE partition = ?`,
		partition).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
