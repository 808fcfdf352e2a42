package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
)

const nodeColumns = `
	id, created_at, action, next_action, next_action_at, item_count, item_count_before_qual_filter,
	body_url, body_format, schema_name, topic, external_name,
	sending_org, sending_org_client, intake_status,
	receiving_org, receiving_org_svc, transport_result, downloaded_by`

const descendantsCTE = `
	WITH RECURSIVE descendants(id) AS (
		SELECT $1::text
		UNION
		SELECT e.child_id FROM lineage_edges e JOIN descendants d ON e.parent_id = d.id
	)`

const rootsQuery = `
	WITH RECURSIVE ancestors(id) AS (
		SELECT $1::text
		UNION
		SELECT e.parent_id FROM lineage_edges e JOIN ancestors a ON e.child_id = a.id
	)
	SELECT ` + nodeColumns + `
	FROM report_nodes n
	WHERE n.id IN (SELECT id FROM ancestors)
	  AND NOT EXISTS (SELECT 1 FROM lineage_edges e WHERE e.child_id = n.id)
	ORDER BY n.created_at ASC, n.id COLLATE "C" ASC`

// ReadNode retrieves a single report node by ID.
func (s *Store) ReadNode(ctx context.Context, id string) (ir.ReportNode, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM report_nodes WHERE id = $1`, id)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ir.ReportNode{}, fmt.Errorf("read node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.ReportNode{}, fmt.Errorf("read node %s: %w", id, err)
	}
	return n, nil
}

// ReadRoots returns the parentless ancestors of reportID, one per
// submission it descends from.
func (s *Store) ReadRoots(ctx context.Context, reportID string) ([]ir.ReportNode, error) {
	roots, err := collect(ctx, s.pool, rootsQuery, reportID, scanNode)
	if err != nil {
		return nil, fmt.Errorf("read roots of %s: %w", reportID, err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("read roots of %s: %w", reportID, ErrNotFound)
	}
	return roots, nil
}

// ReadSubmission returns a snapshot of rootID and everything derived from
// it, read in one repeatable-read transaction.
func (s *Store) ReadSubmission(ctx context.Context, rootID string) (lineage.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	nodes, err := collect(ctx, tx, descendantsCTE+`
		SELECT `+nodeColumns+`
		FROM report_nodes
		WHERE id IN (SELECT id FROM descendants)
		ORDER BY created_at ASC, id COLLATE "C" ASC
	`, rootID, scanNode)
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission: nodes: %w", err)
	}
	if len(nodes) == 0 {
		return lineage.Snapshot{}, fmt.Errorf("read submission %s: %w", rootID, ErrNotFound)
	}

	edges, err := collect(ctx, tx, descendantsCTE+`
		SELECT parent_id, child_id, created_at
		FROM lineage_edges
		WHERE parent_id IN (SELECT id FROM descendants)
		  AND child_id IN (SELECT id FROM descendants)
		ORDER BY parent_id COLLATE "C" ASC, child_id COLLATE "C" ASC
	`, rootID, scanEdge)
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission: edges: %w", err)
	}

	logs, err := collect(ctx, tx, descendantsCTE+`
		SELECT id, report_id, scope, level, item_index, tracking_id, field_name, message, filter, created_at
		FROM action_logs
		WHERE report_id IN (SELECT id FROM descendants)
		ORDER BY created_at ASC, id COLLATE "C" ASC
	`, rootID, scanLog)
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission: logs: %w", err)
	}

	g, err := lineage.New(nodes, edges)
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission: %w", err)
	}
	return lineage.Snapshot{RootID: rootID, Graph: g, Logs: logs}, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func collect[T any](ctx context.Context, q querier, sql string, arg any, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanNode(row pgx.Row) (ir.ReportNode, error) {
	var (
		n                    ir.ReportNode
		createdAt            int64
		action, next, format string
		nextActionAt         *int64
	)
	err := row.Scan(
		&n.ID, &createdAt, &action, &next, &nextActionAt, &n.ItemCount, &n.ItemCountBeforeQualityFilter,
		&n.Body.URL, &format, &n.SchemaName, &n.Topic, &n.ExternalName,
		&n.SendingOrg, &n.SendingOrgClient, &n.IntakeStatus,
		&n.ReceivingOrg, &n.ReceivingOrgSvc, &n.TransportResult, &n.DownloadedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ir.ReportNode{}, err
		}
		return ir.ReportNode{}, fmt.Errorf("scan node: %w", err)
	}
	n.CreatedAt = fromMicros(createdAt)
	n.Action = ir.ActionKind(action)
	n.NextAction = ir.ActionKind(next)
	n.NextActionAt = timeFromNull(nextActionAt)
	n.Body.Format = ir.Format(format)
	return n, nil
}

func scanEdge(row pgx.Row) (ir.LineageEdge, error) {
	var (
		e         ir.LineageEdge
		createdAt int64
	)
	if err := row.Scan(&e.ParentID, &e.ChildID, &createdAt); err != nil {
		return ir.LineageEdge{}, fmt.Errorf("scan edge: %w", err)
	}
	e.CreatedAt = fromMicros(createdAt)
	return e, nil
}

func scanLog(row pgx.Row) (ir.ActionLogEntry, error) {
	var (
		l            ir.ActionLogEntry
		scope, level string
		filter       *string
		createdAt    int64
	)
	err := row.Scan(&l.ID, &l.ReportID, &scope, &level, &l.Index, &l.TrackingID, &l.FieldName, &l.Message, &filter, &createdAt)
	if err != nil {
		return ir.ActionLogEntry{}, fmt.Errorf("scan log: %w", err)
	}
	l.Scope = ir.LogScope(scope)
	l.Level = ir.LogLevel(level)
	l.CreatedAt = fromMicros(createdAt)
	if filter != nil && *filter != "" {
		var f ir.FilterResult
		if err := json.Unmarshal([]byte(*filter), &f); err != nil {
			return ir.ActionLogEntry{}, fmt.Errorf("unmarshal filter: %w", err)
		}
		if f.FilterArgs == nil {
			f.FilterArgs = []string{}
		}
		l.Filter = &f
	}
	return l, nil
}
