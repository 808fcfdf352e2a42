package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/reportflow/internal/ir"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertReportNode inserts a report node into the store.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
// Other constraint violations (e.g., NOT NULL) will still return errors.
func (s *Store) InsertReportNode(ctx context.Context, node ir.ReportNode) error {
	if err := insertReportNode(ctx, s.db, node); err != nil {
		return fmt.Errorf("insert report node: %w", err)
	}
	return nil
}

// InsertLineageEdge inserts a parent -> child edge.
// Both nodes must exist (foreign key constraint). Duplicate edges are ignored.
func (s *Store) InsertLineageEdge(ctx context.Context, edge ir.LineageEdge) error {
	if err := insertLineageEdge(ctx, s.db, edge); err != nil {
		return fmt.Errorf("insert lineage edge: %w", err)
	}
	return nil
}

// InsertLog inserts an action log entry.
// When entry.ID is empty the content-addressed LogID is used, so writing the
// same entry twice stores it once.
//
// Note: The report referenced by ReportID must exist (foreign key constraint).
func (s *Store) InsertLog(ctx context.Context, entry ir.ActionLogEntry) error {
	if err := insertLog(ctx, s.db, entry); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// RecordStep writes one pipeline step atomically: the child node, an edge
// from every parent and the step's logs. Either everything is stored or
// nothing is.
func (s *Store) RecordStep(ctx context.Context, node ir.ReportNode, edges []ir.LineageEdge, logs []ir.ActionLogEntry) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertReportNode(ctx, tx, node); err != nil {
			return err
		}
		for _, e := range edges {
			if err := insertLineageEdge(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, l := range logs {
			if err := insertLog(ctx, tx, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

func insertReportNode(ctx context.Context, db execer, n ir.ReportNode) error {
	if n.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	next := n.NextAction
	if next == "" {
		next = ir.ActionNone
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO report_nodes
		(id, created_at, action, next_action, next_action_at, item_count, item_count_before_qual_filter,
		 body_url, body_format, schema_name, topic, external_name,
		 sending_org, sending_org_client, intake_status,
		 receiving_org, receiving_org_svc, transport_result, downloaded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		n.ID,
		toMicros(n.CreatedAt),
		string(n.Action),
		string(next),
		nullableMicros(n.NextActionAt),
		n.ItemCount,
		nullableInt(n.ItemCountBeforeQualityFilter),
		n.Body.URL,
		string(n.Body.Format),
		n.SchemaName,
		n.Topic,
		n.ExternalName,
		n.SendingOrg,
		n.SendingOrgClient,
		n.IntakeStatus,
		n.ReceivingOrg,
		n.ReceivingOrgSvc,
		n.TransportResult,
		n.DownloadedBy,
	)
	return err
}

func insertLineageEdge(ctx context.Context, db execer, e ir.LineageEdge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO lineage_edges (parent_id, child_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(parent_id, child_id) DO NOTHING
	`, e.ParentID, e.ChildID, toMicros(e.CreatedAt))
	return err
}

func insertLog(ctx context.Context, db execer, l ir.ActionLogEntry) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if l.ID == "" {
		id, err := ir.LogID(l)
		if err != nil {
			return err
		}
		l.ID = id
	}
	filter, err := marshalFilter(l.Filter)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO action_logs
		(id, report_id, scope, level, item_index, tracking_id, field_name, message, filter, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		l.ID,
		l.ReportID,
		string(l.Scope),
		string(l.Level),
		nullableInt(l.Index),
		l.TrackingID,
		l.FieldName,
		l.Message,
		filter,
		toMicros(l.CreatedAt),
	)
	return err
}
