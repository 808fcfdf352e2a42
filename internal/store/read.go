package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
)

const nodeColumns = `
	id, created_at, action, next_action, next_action_at, item_count, item_count_before_qual_filter,
	body_url, body_format, schema_name, topic, external_name,
	sending_org, sending_org_client, intake_status,
	receiving_org, receiving_org_svc, transport_result, downloaded_by`

// descendantsCTE walks lineage edges from the root bound to the first placeholder.
const descendantsCTE = `
	WITH RECURSIVE descendants(id) AS (
		SELECT ?
		UNION
		SELECT e.child_id FROM lineage_edges e JOIN descendants d ON e.parent_id = d.id
	)`

// rootsQuery selects the parentless ancestors of the id bound to the first
// placeholder, the id itself included.
const rootsQuery = `
	WITH RECURSIVE ancestors(id) AS (
		SELECT ?
		UNION
		SELECT e.parent_id FROM lineage_edges e JOIN ancestors a ON e.child_id = a.id
	)
	SELECT ` + nodeColumns + `
	FROM report_nodes n
	WHERE n.id IN (SELECT id FROM ancestors)
	  AND NOT EXISTS (SELECT 1 FROM lineage_edges e WHERE e.child_id = n.id)
	ORDER BY n.created_at ASC, n.id COLLATE BINARY ASC`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ReadNode retrieves a single report node by ID.
// Returns ErrNotFound if no such node exists.
func (s *Store) ReadNode(ctx context.Context, id string) (ir.ReportNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM report_nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ReportNode{}, fmt.Errorf("read node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.ReportNode{}, fmt.Errorf("read node %s: %w", id, err)
	}
	return n, nil
}

// ReadRoots returns the submissions reportID descends from. A batch that
// merged several submissions has one root per submission; an ingress node
// is its own root. Returns ErrNotFound if reportID does not exist.
func (s *Store) ReadRoots(ctx context.Context, reportID string) ([]ir.ReportNode, error) {
	rows, err := s.db.QueryContext(ctx, rootsQuery, reportID)
	if err != nil {
		return nil, fmt.Errorf("read roots of %s: %w", reportID, err)
	}
	defer rows.Close()

	var roots []ir.ReportNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("read roots of %s: %w", reportID, err)
		}
		roots = append(roots, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read roots of %s: %w", reportID, err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("read roots of %s: %w", reportID, ErrNotFound)
	}
	return roots, nil
}

// ReadSubmission returns a point-in-time snapshot of rootID and everything
// derived from it: descendant nodes, the edges between them and their logs.
// Returns ErrNotFound if rootID does not exist.
func (s *Store) ReadSubmission(ctx context.Context, rootID string) (lineage.Snapshot, error) {
	var (
		nodes []ir.ReportNode
		edges []ir.LineageEdge
		logs  []ir.ActionLogEntry
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if nodes, err = readDescendantNodes(ctx, tx, rootID); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return ErrNotFound
		}
		if edges, err = readDescendantEdges(ctx, tx, rootID); err != nil {
			return err
		}
		logs, err = readDescendantLogs(ctx, tx, rootID)
		return err
	})
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission %s: %w", rootID, err)
	}

	g, err := lineage.New(nodes, edges)
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("read submission %s: %w", rootID, err)
	}
	return lineage.Snapshot{RootID: rootID, Graph: g, Logs: logs}, nil
}

func readDescendantNodes(ctx context.Context, q queryer, rootID string) ([]ir.ReportNode, error) {
	// The root only joins the CTE if it exists; an unknown id yields no rows.
	rows, err := q.QueryContext(ctx, descendantsCTE+`
		SELECT `+nodeColumns+`
		FROM report_nodes
		WHERE id IN (SELECT id FROM descendants)
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []ir.ReportNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func readDescendantEdges(ctx context.Context, q queryer, rootID string) ([]ir.LineageEdge, error) {
	rows, err := q.QueryContext(ctx, descendantsCTE+`
		SELECT parent_id, child_id, created_at
		FROM lineage_edges
		WHERE parent_id IN (SELECT id FROM descendants)
		  AND child_id IN (SELECT id FROM descendants)
		ORDER BY parent_id COLLATE BINARY ASC, child_id COLLATE BINARY ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	edges := []ir.LineageEdge{}
	for rows.Next() {
		var e ir.LineageEdge
		var createdAt int64
		if err := rows.Scan(&e.ParentID, &e.ChildID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.CreatedAt = fromMicros(createdAt)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

func readDescendantLogs(ctx context.Context, q queryer, rootID string) ([]ir.ActionLogEntry, error) {
	rows, err := q.QueryContext(ctx, descendantsCTE+`
		SELECT id, report_id, scope, level, item_index, tracking_id, field_name, message, filter, created_at
		FROM action_logs
		WHERE report_id IN (SELECT id FROM descendants)
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	logs := []ir.ActionLogEntry{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return logs, nil
}

func scanNode(row rowScanner) (ir.ReportNode, error) {
	var (
		n                      ir.ReportNode
		createdAt              int64
		action, next, format   string
		nextActionAt, beforeQF sql.NullInt64
	)
	err := row.Scan(
		&n.ID, &createdAt, &action, &next, &nextActionAt, &n.ItemCount, &beforeQF,
		&n.Body.URL, &format, &n.SchemaName, &n.Topic, &n.ExternalName,
		&n.SendingOrg, &n.SendingOrgClient, &n.IntakeStatus,
		&n.ReceivingOrg, &n.ReceivingOrgSvc, &n.TransportResult, &n.DownloadedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.ReportNode{}, err
		}
		return ir.ReportNode{}, fmt.Errorf("scan node: %w", err)
	}
	n.CreatedAt = fromMicros(createdAt)
	n.Action = ir.ActionKind(action)
	n.NextAction = ir.ActionKind(next)
	n.NextActionAt = timeFromNull(nextActionAt)
	n.ItemCountBeforeQualityFilter = intFromNull(beforeQF)
	n.Body.Format = ir.Format(format)
	return n, nil
}

func scanLog(row rowScanner) (ir.ActionLogEntry, error) {
	var (
		l            ir.ActionLogEntry
		scope, level string
		index        sql.NullInt64
		filter       sql.NullString
		createdAt    int64
	)
	err := row.Scan(&l.ID, &l.ReportID, &scope, &level, &index, &l.TrackingID, &l.FieldName, &l.Message, &filter, &createdAt)
	if err != nil {
		return ir.ActionLogEntry{}, fmt.Errorf("scan log: %w", err)
	}
	l.Scope = ir.LogScope(scope)
	l.Level = ir.LogLevel(level)
	l.Index = intFromNull(index)
	l.CreatedAt = fromMicros(createdAt)
	if l.Filter, err = unmarshalFilter(filter); err != nil {
		return ir.ActionLogEntry{}, err
	}
	return l, nil
}
