// Package store provides SQLite-backed durable storage for the curation
// pipeline: sources, articles, queue jobs, stories, slides and asset exports.
//
// # Critical Patterns
//
// Conditional transitions
//   - Every status change is an UPDATE guarded by the expected current
//     status ("claim only if still pending"), never read-then-write
//   - RowsAffected == 0 means another caller got there first; the caller
//     re-reads to decide between no-op and conflict
//
// Transactional cascades
//   - Multi-entity changes (job completion, story deletion, intake) run in one
//     transaction; on error nothing is visible to later reads
//
// Derived columns
//   - slides.word_count is written in the same statement as slides.content
//
// Deterministic ordering
//   - Queue claims follow the job's insertion seq
//   - Lists order by created_at, then id
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Dynamic filters are built with squirrel.
package store
