// Package engram is an embedded semantic memory store for AI assistants.
//
// Memories are short natural-language fragments stored per owner, embedded
// as vectors and retrieved later by similarity plus metadata and category
// filters. The write path deduplicates near-identical content (replace,
// merge-append or insert, decided against the nearest neighbor), and a
// background Maintainer expires session memories, purges soft-deleted rows,
// decays relevance of stale records and compacts the vector index.
//
// Storage is SQLite (ncruces/go-sqlite3) with a sqlite-vec vec0 virtual
// table as the approximate-nearest-neighbor index. The vec table is derived
// state: every visibility decision is made against the records table, so a
// stale index entry can lower recall but never resurrect a deleted record.
package engram
