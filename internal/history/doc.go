// Package history derives the read-side views of a submission from its
// lineage snapshot: per-destination rollups, consolidated logs and the
// overall delivery status.
//
// Everything here is a pure function of a lineage.Snapshot and a settings
// provider. Nothing is persisted; views are recomputed on every read and may
// be built concurrently for different submissions.
package history
