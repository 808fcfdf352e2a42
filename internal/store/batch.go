package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/reportflow/internal/ir"
)

// pendingBatchWhere selects nodes waiting for batch for one receiver,
// scheduled at or after a backstop time, that are neither claimed nor
// already the parent of a batch report.
const pendingBatchWhere = `
	n.next_action = 'batch'
	AND n.receiving_org = ? AND n.receiving_org_svc = ?
	AND n.next_action_at >= ?
	AND NOT EXISTS (SELECT 1 FROM batch_claims c WHERE c.report_id = n.id)
	AND NOT EXISTS (
		SELECT 1 FROM lineage_edges e JOIN report_nodes b ON b.id = e.child_id
		WHERE e.parent_id = n.id AND b.action = 'batch')`

// CountReportsNeedingBatch returns how many unclaimed nodes for receiver
// ("org.svc") are waiting for batch with a schedule at or after since.
func (s *Store) CountReportsNeedingBatch(ctx context.Context, receiver string, since time.Time) (int, error) {
	org, svc, err := splitReceiver(receiver)
	if err != nil {
		return 0, fmt.Errorf("count reports needing batch: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM report_nodes n WHERE `+pendingBatchWhere,
		org, svc, toMicros(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reports needing batch: %w", err)
	}
	return count, nil
}

// FetchAndLockBatchNodes claims up to limit nodes waiting for batch for
// receiver and returns them oldest schedule first, stamping the claims with
// now. Claimed nodes are no longer counted or fetched by later calls.
//
// SQLite has a single writer, so the select and claim run in one transaction
// without row locks.
func (s *Store) FetchAndLockBatchNodes(ctx context.Context, receiver string, limit int, since, now time.Time) ([]ir.ReportNode, error) {
	org, svc, err := splitReceiver(receiver)
	if err != nil {
		return nil, fmt.Errorf("fetch batch nodes: %w", err)
	}
	if limit <= 0 {
		return []ir.ReportNode{}, nil
	}

	nodes := []ir.ReportNode{}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+prefixed("n.", nodeColumns)+`
			FROM report_nodes n
			WHERE `+pendingBatchWhere+`
			ORDER BY n.next_action_at ASC, n.id COLLATE BINARY ASC
			LIMIT ?
		`, org, svc, toMicros(since), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			n, err := scanNode(rows)
			if err != nil {
				rows.Close()
				return err
			}
			nodes = append(nodes, n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		claimedAt := toMicros(now)
		for _, n := range nodes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO batch_claims (report_id, claimed_at) VALUES (?, ?)
				ON CONFLICT(report_id) DO NOTHING
			`, n.ID, claimedAt); err != nil {
				return fmt.Errorf("claim %s: %w", n.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch batch nodes: %w", err)
	}
	return nodes, nil
}

// ReleaseBatchClaims returns claimed nodes to the pending pool, used when a
// batch worker fails after claiming.
func (s *Store) ReleaseBatchClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_claims WHERE report_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("release batch claims: %w", err)
	}
	return nil
}

// CheckRecentlySent reports whether a send was recorded for receiver at or
// after since.
func (s *Store) CheckRecentlySent(ctx context.Context, receiver string, since time.Time) (bool, error) {
	org, svc, err := splitReceiver(receiver)
	if err != nil {
		return false, fmt.Errorf("check recently sent: %w", err)
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM report_nodes
			WHERE action = 'send'
			  AND receiving_org = ? AND receiving_org_svc = ?
			  AND created_at >= ?
		)
	`, org, svc, toMicros(since)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recently sent: %w", err)
	}
	return exists, nil
}

func splitReceiver(receiver string) (string, string, error) {
	org, svc, ok := ir.SplitFullName(receiver)
	if !ok {
		return "", "", fmt.Errorf("invalid receiver name %q", receiver)
	}
	return org, svc, nil
}

// prefixed qualifies every column in a comma-separated list with prefix.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
