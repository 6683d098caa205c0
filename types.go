package engram

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is a per-owner semantic memory store backed by SQLite + sqlite-vec.
type Store struct {
	db       *sql.DB
	embedder Embedder
	log      *slog.Logger
	dims     int
	locks    *ownerLocks
}

// MemoryRecord is the core stored entity. Content is immutable once
// accepted; a near-duplicate write replaces it under the same ID with an
// incremented Version rather than mutating in place.
type MemoryRecord struct {
	ID          string
	OwnerID     string
	Content     string
	ContentHash string
	Embedding   []float32
	Metadata    map[string]any
	Categories  []string
	Relevance   float64
	Deleted     bool
	Version     int
	ExpiresAt   *time.Time // non-nil = session memory, reaped after expiry
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScoredRecord pairs a record with its similarity to the query vector,
// expressed as 1 - cosine distance so that higher means more similar.
type ScoredRecord struct {
	Record     *MemoryRecord
	Similarity float64
}

// WriteOptions carries the optional parts of a Remember call.
type WriteOptions struct {
	Metadata   map[string]any
	Categories []string
	ExpiresAt  *time.Time // set to create a session memory
}

// WriteOutcome reports which dedup decision a Remember call took.
type WriteOutcome string

const (
	OutcomeInserted WriteOutcome = "inserted"
	OutcomeReplaced WriteOutcome = "replaced"
	OutcomeMerged   WriteOutcome = "merged"
)

// WriteResult contains the accepted record and any supersession info.
type WriteResult struct {
	Record *MemoryRecord
	// Superseded is non-nil when the write replaced an existing record or
	// merged alongside one (in which case the older record's relevance has
	// been reduced).
	Superseded *MemoryRecord
	Outcome    WriteOutcome
	// Degraded is true when the vector index could not be consulted and
	// dedup fell back to hash-only comparison.
	Degraded bool
}

// DefaultMinSimilarity is a deliberately low retrieval bar, favoring recall
// over precision for conversational grounding.
const DefaultMinSimilarity = 0.3

// MinSimilarityAll disables the similarity cutoff, admitting every
// candidate. Needed because the zero value of SearchOptions.MinSimilarity
// selects DefaultMinSimilarity.
const MinSimilarityAll = -1.0

// SearchOptions filters and bounds a Search call.
type SearchOptions struct {
	// Limit > 0 is required.
	Limit int
	// Metadata, when non-empty, requires subset containment: every key must
	// be present on the record with an equal value.
	Metadata map[string]any
	// Categories, when non-empty, requires a non-empty intersection with the
	// record's category set.
	Categories []string
	// MinSimilarity in [0,1]; the zero value means DefaultMinSimilarity and
	// MinSimilarityAll disables the cutoff.
	MinSimilarity float64
}

// SearchResult is the ordered outcome of a hybrid retrieval.
type SearchResult struct {
	Records []ScoredRecord
	// Partial is true when post-filtering left fewer than Limit results.
	// The engine does not re-query with a larger candidate set; callers that
	// need more results must widen their filters.
	Partial bool
	// Degraded is true when the vector index failed and the engine fell back
	// to an exact scan of the owner's active records.
	Degraded bool
}

// MaintenanceConfig tunes the background Maintainer pass.
type MaintenanceConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string
	// Retention is how long soft-deleted records are kept before hard
	// deletion.
	Retention time.Duration
	// DecayAfter is the idle age beyond which relevance decays.
	DecayAfter time.Duration
	// DecayFactor multiplies relevance on each decay pass (0 < f < 1).
	DecayFactor float64
	// BatchSize bounds how many records a single pass step touches.
	BatchSize int
}

var DefaultMaintenanceConfig = MaintenanceConfig{
	Schedule:    "*/15 * * * *",
	Retention:   7 * 24 * time.Hour,
	DecayAfter:  30 * 24 * time.Hour,
	DecayFactor: 0.95,
	BatchSize:   500,
}
