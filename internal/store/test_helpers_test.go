package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/reportflow/internal/ir"
)

var testEpoch = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

// createTestStore creates a new store backed by a temp-dir database.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestNode creates a report node with minimal required fields.
func createTestNode(id string, action ir.ActionKind, offset time.Duration) ir.ReportNode {
	return ir.ReportNode{
		ID:         id,
		CreatedAt:  testEpoch.Add(offset),
		Action:     action,
		NextAction: ir.ActionNone,
		ItemCount:  1,
	}
}

// createPendingBatchNode creates a node waiting for batch for receiver org.svc.
func createPendingBatchNode(id, org, svc string, scheduled time.Time) ir.ReportNode {
	return ir.ReportNode{
		ID:              id,
		CreatedAt:       scheduled,
		Action:          ir.ActionTranslate,
		NextAction:      ir.ActionBatch,
		NextActionAt:    &scheduled,
		ItemCount:       1,
		ReceivingOrg:    org,
		ReceivingOrgSvc: svc,
	}
}

func mustInsertNode(t *testing.T, s *Store, n ir.ReportNode) {
	t.Helper()
	if err := s.InsertReportNode(context.Background(), n); err != nil {
		t.Fatalf("InsertReportNode(%s) failed: %v", n.ID, err)
	}
}

func mustInsertEdge(t *testing.T, s *Store, parent, child string) {
	t.Helper()
	err := s.InsertLineageEdge(context.Background(), ir.LineageEdge{ParentID: parent, ChildID: child, CreatedAt: testEpoch})
	if err != nil {
		t.Fatalf("InsertLineageEdge(%s -> %s) failed: %v", parent, child, err)
	}
}

// getTableIndexes returns all index names for a table.
func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to query indexes: %v", err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
