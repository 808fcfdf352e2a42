// Package ir provides the report lineage data model shared by every other
// package: report nodes, lineage edges, action log entries and the canonical
// JSON used for content-addressed identity.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Records are append-only; nothing in ir mutates a stored node
//   - All JSON tags use snake_case
//   - Timestamps are UTC; the store persists them as unix microseconds
//   - Body bytes are never interpreted, only referenced by BodyLocation
package ir
