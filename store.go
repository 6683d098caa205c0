package engram

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// Option configures a Store at Open time.
type Option func(*Store)

// WithDimensions sets the embedding dimension. Must match the embedder; the
// vec table is created with this size and cannot be resized afterwards.
func WithDimensions(dims int) Option {
	return func(s *Store) { s.dims = dims }
}

// WithLogger attaches a structured logger. Degraded-mode events and
// maintenance outcomes are reported through it.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithEmbedder sets the embedding gateway used by Remember and SearchText.
func WithEmbedder(e Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// Open opens (and migrates) a store at path. Use ":memory:" for tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:    db,
		dims:  DefaultDimensions,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		locks: newOwnerLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if _, err := s.db.Exec(vecSchema(s.dims)); err != nil {
		return err
	}

	return nil
}

// SetEmbedder replaces the embedding gateway.
func (s *Store) SetEmbedder(e Embedder) {
	s.embedder = e
}

// HasEmbedder reports whether an embedding gateway is configured.
func (s *Store) HasEmbedder() bool {
	return s.embedder != nil
}

// Dimensions returns the embedding dimension the store was opened with.
func (s *Store) Dimensions() int {
	return s.dims
}

// CountActive returns the number of active records for an owner. Used as a
// cheap health probe by the daemon.
func (s *Store) CountActive(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE owner_id = ? AND is_deleted = 0`,
		ownerID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SnapshotTo writes a consistent copy of the database to path via
// VACUUM INTO. The target must not exist.
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
