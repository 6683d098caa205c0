package engram

import "fmt"

// DefaultDimensions matches nomic-embed-text; override with WithDimensions.
const DefaultDimensions = 768

const schema = `
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    embedding BLOB,
    metadata TEXT NOT NULL DEFAULT '{}',
    categories TEXT NOT NULL DEFAULT '[]',
    relevance REAL NOT NULL DEFAULT 0.8,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    expires_at DATETIME,
    deleted_at DATETIME,
    last_decayed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id, is_deleted);
CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_records_deleted_at ON records(deleted_at) WHERE deleted_at IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_owner_hash ON records(owner_id, content_hash) WHERE is_deleted = 0;

CREATE TABLE IF NOT EXISTS maintenance_state (
    partition TEXT PRIMARY KEY,
    last_run DATETIME NOT NULL
);
`

// vecSchema builds the vec0 virtual table for the configured dimension.
// The vec table keys on records.rowid; the records table stays the source
// of truth for visibility. Candidate ordering uses the index distance, but
// every similarity that feeds a decision is recomputed in Go from the
// stored embeddings.
func vecSchema(dims int) string {
	return fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
    record_rowid INTEGER PRIMARY KEY,
    embedding FLOAT[%d]
);
`, dims)
}
