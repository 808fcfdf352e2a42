package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
)

func TestInsertReportNode_Roundtrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	next := testEpoch.Add(time.Hour)
	before := 12
	n := ir.ReportNode{
		ID:                           "node-1",
		CreatedAt:                    testEpoch,
		Action:                       ir.ActionTranslate,
		NextAction:                   ir.ActionBatch,
		NextActionAt:                 &next,
		ItemCount:                    10,
		ItemCountBeforeQualityFilter: &before,
		Body:                         ir.BodyLocation{URL: "mem://reports/node-1", Format: ir.FormatHL7Batch},
		SchemaName:                   "covid-19/hl7",
		Topic:                        "covid-19",
		ReceivingOrg:                 "co-phd",
		ReceivingOrgSvc:              "elr",
	}
	require.NoError(t, s.InsertReportNode(ctx, n))

	got, err := s.ReadNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestInsertReportNode_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := createTestNode("dup", ir.ActionReceive, 0)
	require.NoError(t, s.InsertReportNode(ctx, n))

	n.ItemCount = 99
	require.NoError(t, s.InsertReportNode(ctx, n), "duplicate id is silently ignored")

	got, err := s.ReadNode(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ItemCount, "first write wins")
}

func TestInsertReportNode_EmptyNextActionStoredAsNone(t *testing.T) {
	s := createTestStore(t)
	n := createTestNode("n", ir.ActionSend, 0)
	n.NextAction = ""
	mustInsertNode(t, s, n)

	got, err := s.ReadNode(context.Background(), "n")
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNone, got.NextAction)
}

func TestInsertReportNode_RejectsEmptyID(t *testing.T) {
	s := createTestStore(t)
	err := s.InsertReportNode(context.Background(), ir.ReportNode{Action: ir.ActionReceive})
	assert.Error(t, err)
}

func TestInsertLineageEdge_ForeignKey(t *testing.T) {
	s := createTestStore(t)
	mustInsertNode(t, s, createTestNode("parent", ir.ActionReceive, 0))

	err := s.InsertLineageEdge(context.Background(), ir.LineageEdge{ParentID: "parent", ChildID: "missing", CreatedAt: testEpoch})
	assert.Error(t, err, "child must exist")
}

func TestInsertLog_ComputesContentID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsertNode(t, s, createTestNode("r", ir.ActionReceive, 0))

	idx := 4
	entry := ir.ActionLogEntry{
		ReportID:  "r",
		Scope:     ir.ScopeItem,
		Level:     ir.LevelError,
		Index:     &idx,
		Message:   "Invalid date",
		CreatedAt: testEpoch,
	}
	require.NoError(t, s.InsertLog(ctx, entry))
	require.NoError(t, s.InsertLog(ctx, entry), "same entry twice is stored once")

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM action_logs").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestInsertLog_RejectsInvalidEntry(t *testing.T) {
	s := createTestStore(t)
	mustInsertNode(t, s, createTestNode("r", ir.ActionReceive, 0))

	err := s.InsertLog(context.Background(), ir.ActionLogEntry{ReportID: "r", Scope: ir.ScopeReport, Level: ir.LevelFilter, Message: "no result"})
	assert.Error(t, err)
}

func TestRecordStep_Atomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsertNode(t, s, createTestNode("root", ir.ActionReceive, 0))

	child := createTestNode("child", ir.ActionRoute, time.Minute)
	edges := []ir.LineageEdge{
		{ParentID: "root", ChildID: "child", CreatedAt: child.CreatedAt},
		{ParentID: "missing-parent", ChildID: "child", CreatedAt: child.CreatedAt},
	}
	err := s.RecordStep(ctx, child, edges, nil)
	require.Error(t, err)

	_, err = s.ReadNode(ctx, "child")
	assert.ErrorIs(t, err, ErrNotFound, "failed step leaves no node behind")

	require.NoError(t, s.RecordStep(ctx, child, edges[:1], []ir.ActionLogEntry{
		{ReportID: "child", Scope: ir.ScopeReport, Level: ir.LevelWarning, Message: "late", CreatedAt: child.CreatedAt},
	}))

	snap, err := s.ReadSubmission(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Graph.Len())
	assert.Len(t, snap.Logs, 1)
}
