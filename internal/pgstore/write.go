package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/reportflow/internal/ir"
)

// RecordStep inserts a node with its incoming edges and logs in one
// transaction. Rows that already exist are left untouched.
func (s *Store) RecordStep(ctx context.Context, node ir.ReportNode, edges []ir.LineageEdge, logs []ir.ActionLogEntry) error {
	if node.ID == "" {
		return errors.New("record step: node id is empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record step: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueNode(batch, node)
	for _, e := range edges {
		batch.Queue(`
			INSERT INTO lineage_edges (parent_id, child_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (parent_id, child_id) DO NOTHING
		`, e.ParentID, e.ChildID, toMicros(e.CreatedAt))
	}
	for _, l := range logs {
		if err := queueLog(batch, l); err != nil {
			return fmt.Errorf("record step: log: %w", err)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("record step: commit: %w", err)
	}
	return nil
}

func queueNode(batch *pgx.Batch, n ir.ReportNode) {
	next := n.NextAction
	if next == "" {
		next = ir.ActionNone
	}
	batch.Queue(`
		INSERT INTO report_nodes
		(id, created_at, action, next_action, next_action_at, item_count, item_count_before_qual_filter,
		 body_url, body_format, schema_name, topic, external_name,
		 sending_org, sending_org_client, intake_status,
		 receiving_org, receiving_org_svc, transport_result, downloaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING
	`,
		n.ID,
		toMicros(n.CreatedAt),
		string(n.Action),
		string(next),
		nullableMicros(n.NextActionAt),
		n.ItemCount,
		n.ItemCountBeforeQualityFilter,
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
}

func queueLog(batch *pgx.Batch, l ir.ActionLogEntry) error {
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

	var filter *string
	if l.Filter != nil {
		data, err := ir.MarshalCanonical(l.Filter)
		if err != nil {
			return fmt.Errorf("marshal filter: %w", err)
		}
		s := string(data)
		filter = &s
	}

	batch.Queue(`
		INSERT INTO action_logs
		(id, report_id, scope, level, item_index, tracking_id, field_name, message, filter, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		l.ID,
		l.ReportID,
		string(l.Scope),
		string(l.Level),
		l.Index,
		l.TrackingID,
		l.FieldName,
		l.Message,
		filter,
		toMicros(l.CreatedAt),
	)
	return nil
}
