package engram

import "errors"

var (
	// ErrEmbeddingUnavailable wraps an Embedder failure. The store never
	// retries internally; callers decide between resubmission and
	// text-only fallback.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrConstraintViolation rejects a write before anything is stored:
	// relevance outside [0,1] or an empty category set after normalization.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotFound is returned on read misses. Not a failure condition for
	// callers.
	ErrNotFound = errors.New("record not found")

	// ErrIndexDegraded marks a vector index failure. Dedup falls back to
	// hash-only and retrieval to an exact scan; the error surfaces only when
	// no fallback applies.
	ErrIndexDegraded = errors.New("vector index degraded")

	// ErrConcurrentConflict is returned when the per-owner write lock could
	// not be acquired before the caller's deadline. Safe to retry.
	ErrConcurrentConflict = errors.New("concurrent write conflict")
)
