// Package lineage holds the immutable, id-indexed view of one submission's
// report graph.
//
// A Graph is built once from stored nodes and edges and never mutated. Every
// accessor returns nodes in deterministic order (created_at, then id) so the
// read path produces identical output for identical data.
package lineage
