package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainReport = "reportflow/report/v1"
	DomainLog    = "reportflow/log/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// reportIdentity is the subset of a derived node that defines what it is.
// Parents are sorted so edge insertion order does not change the id.
type reportIdentity struct {
	Parents   []string     `json:"parents"`
	Action    ActionKind   `json:"action"`
	Receiver  string       `json:"receiver"`
	CreatedAt string       `json:"created_at"`
	ItemCount int          `json:"item_count"`
	Body      BodyLocation `json:"body"`
}

// ReportID computes the content-addressed id of a derived report node.
// The same parents, action, destination, time and body always produce the
// same id, which makes re-recording a pipeline step idempotent.
//
// Ingress nodes have no parents and use a UUIDv7 instead.
func ReportID(parents []string, node ReportNode) (string, error) {
	sorted := slices.Clone(parents)
	slices.Sort(sorted)
	if sorted == nil {
		sorted = []string{}
	}

	canonical, err := MarshalCanonical(reportIdentity{
		Parents:   sorted,
		Action:    node.Action,
		Receiver:  node.Receiver(),
		CreatedAt: node.CreatedAt.UTC().Format(time.RFC3339Nano),
		ItemCount: node.ItemCount,
		Body:      node.Body,
	})
	if err != nil {
		return "", fmt.Errorf("ReportID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainReport, canonical), nil
}

// LogID computes the content-addressed id of an action log entry.
// The entry's own ID field is ignored.
func LogID(entry ActionLogEntry) (string, error) {
	entry.ID = ""
	entry.CreatedAt = entry.CreatedAt.UTC()
	canonical, err := MarshalCanonical(entry)
	if err != nil {
		return "", fmt.Errorf("LogID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainLog, canonical), nil
}

// LogIDAt computes the id of the entry at position seq within one step's
// logs. Identical entries at different positions get distinct ids, while a
// retried step reproduces the same ids.
func LogIDAt(entry ActionLogEntry, seq int) (string, error) {
	entry.ID = ""
	entry.CreatedAt = entry.CreatedAt.UTC()
	canonical, err := MarshalCanonical(struct {
		Seq   int            `json:"seq"`
		Entry ActionLogEntry `json:"entry"`
	}{seq, entry})
	if err != nil {
		return "", fmt.Errorf("LogIDAt: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainLog, canonical), nil
}

// MustReportID is like ReportID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustReportID(parents []string, node ReportNode) string {
	id, err := ReportID(parents, node)
	if err != nil {
		panic(err)
	}
	return id
}
