package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/reportflow/internal/ir"
)

// pendingBatchWhere matches store.pendingBatchWhere with numbered parameters.
const pendingBatchWhere = `
	n.next_action = 'batch'
	AND n.receiving_org = $1 AND n.receiving_org_svc = $2
	AND n.next_action_at >= $3
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
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM report_nodes n WHERE `+pendingBatchWhere,
		org, svc, toMicros(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reports needing batch: %w", err)
	}
	return count, nil
}

// FetchAndLockBatchNodes claims up to limit nodes waiting for batch for
// receiver, oldest schedule first. Rows another worker is claiming are
// skipped rather than waited on, so concurrent workers split the backlog.
func (s *Store) FetchAndLockBatchNodes(ctx context.Context, receiver string, limit int, since, now time.Time) ([]ir.ReportNode, error) {
	org, svc, err := splitReceiver(receiver)
	if err != nil {
		return nil, fmt.Errorf("fetch batch nodes: %w", err)
	}
	if limit <= 0 {
		return []ir.ReportNode{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch batch nodes: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+prefixed("n.", nodeColumns)+`
		FROM report_nodes n
		WHERE `+pendingBatchWhere+`
		ORDER BY n.next_action_at ASC, n.id COLLATE "C" ASC
		LIMIT $4
		FOR UPDATE OF n SKIP LOCKED
	`, org, svc, toMicros(since), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch batch nodes: %w", err)
	}

	nodes := []ir.ReportNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("fetch batch nodes: %w", err)
		}
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch batch nodes: iterate: %w", err)
	}

	// A row whose claim committed after this statement's snapshot can still
	// be locked here; only rows whose claim this transaction inserted are kept.
	claimed, err := claim(ctx, tx, nodes, now)
	if err != nil {
		return nil, fmt.Errorf("fetch batch nodes: claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("fetch batch nodes: commit: %w", err)
	}
	return claimed, nil
}

func claim(ctx context.Context, tx pgx.Tx, nodes []ir.ReportNode, now time.Time) ([]ir.ReportNode, error) {
	if len(nodes) == 0 {
		return nodes, nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	rows, err := tx.Query(ctx, `
		INSERT INTO batch_claims (report_id, claimed_at)
		SELECT unnest($1::text[]), $2
		ON CONFLICT (report_id) DO NOTHING
		RETURNING report_id
	`, ids, toMicros(now))
	if err != nil {
		return nil, err
	}
	won, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	ok := make(map[string]bool, len(won))
	for _, id := range won {
		ok[id] = true
	}
	out := make([]ir.ReportNode, 0, len(won))
	for _, n := range nodes {
		if ok[n.ID] {
			out = append(out, n)
		}
	}
	return out, nil
}

// ReleaseBatchClaims returns claimed nodes to the pending pool.
func (s *Store) ReleaseBatchClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM batch_claims WHERE report_id = ANY($1)`, ids); err != nil {
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
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM report_nodes
			WHERE action = 'send'
			  AND receiving_org = $1 AND receiving_org_svc = $2
			  AND created_at >= $3
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

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
