// Package store provides SQLite-backed durable storage for report lineage.
//
// The store implements an append-only log with:
//   - Report nodes: one row per artifact produced by a pipeline action
//   - Lineage edges: parent -> child links between report nodes
//   - Action logs: errors, warnings and filter results per report or item
//   - Batch claims: nodes taken by a batch worker
//
// # Critical Patterns
//
// Idempotent writes
//   - Node and log ids are content-addressed (internal/ir/hash.go)
//   - Every insert uses ON CONFLICT DO NOTHING, so re-recording a step is a no-op
//
// Deterministic query results
//   - Every list query orders by created_at ASC, id ASC COLLATE BINARY
//   - Empty results are empty slices, never nil
//
// Point-in-time reads
//   - ReadSubmission reads nodes, edges and logs inside one transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
