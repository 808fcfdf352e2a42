package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
)

func TestCountReportsNeedingBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustInsertNode(t, s, createPendingBatchNode("p1", "co-phd", "elr", testEpoch))
	mustInsertNode(t, s, createPendingBatchNode("p2", "co-phd", "elr", testEpoch.Add(time.Minute)))
	mustInsertNode(t, s, createPendingBatchNode("stale", "co-phd", "elr", testEpoch.Add(-48*time.Hour)))
	mustInsertNode(t, s, createPendingBatchNode("other", "md-phd", "elr", testEpoch))

	sent := createPendingBatchNode("sent", "co-phd", "elr", testEpoch)
	sent.NextAction = ir.ActionSend
	mustInsertNode(t, s, sent)

	n, err := s.CountReportsNeedingBatch(ctx, "co-phd.elr", testEpoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "stale, other-receiver and non-batch nodes excluded")

	n, err = s.CountReportsNeedingBatch(ctx, "nobody.elr", testEpoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.CountReportsNeedingBatch(ctx, "no-separator", testEpoch)
	assert.Error(t, err)
}

func TestFetchAndLockBatchNodes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	since := testEpoch.Add(-time.Hour)

	for i, id := range []string{"c", "a", "b"} {
		mustInsertNode(t, s, createPendingBatchNode(id, "co-phd", "elr", testEpoch.Add(time.Duration(i)*time.Minute)))
	}

	first, err := s.FetchAndLockBatchNodes(ctx, "co-phd.elr", 2, since, testEpoch)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "c", first[0].ID, "oldest schedule first")
	assert.Equal(t, "a", first[1].ID)

	n, err := s.CountReportsNeedingBatch(ctx, "co-phd.elr", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "claimed nodes are no longer pending")

	second, err := s.FetchAndLockBatchNodes(ctx, "co-phd.elr", 2, since, testEpoch)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "b", second[0].ID)

	empty, err := s.FetchAndLockBatchNodes(ctx, "co-phd.elr", 2, since, testEpoch)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestReleaseBatchClaims(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	since := testEpoch.Add(-time.Hour)
	mustInsertNode(t, s, createPendingBatchNode("p", "co-phd", "elr", testEpoch))

	nodes, err := s.FetchAndLockBatchNodes(ctx, "co-phd.elr", 10, since, testEpoch)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, s.ReleaseBatchClaims(ctx, []string{"p"}))
	require.NoError(t, s.ReleaseBatchClaims(ctx, nil))

	n, err := s.CountReportsNeedingBatch(ctx, "co-phd.elr", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFetchAndLockBatchNodes_StampsClaimTime(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsertNode(t, s, createPendingBatchNode("p", "co-phd", "elr", testEpoch))

	claimAt := testEpoch.Add(90 * time.Second)
	_, err := s.FetchAndLockBatchNodes(ctx, "co-phd.elr", 1, testEpoch.Add(-time.Hour), claimAt)
	require.NoError(t, err)

	var micros int64
	require.NoError(t, s.db.QueryRow(`SELECT claimed_at FROM batch_claims WHERE report_id = 'p'`).Scan(&micros))
	assert.Equal(t, claimAt.UnixMicro(), micros)
}

func TestBatchedNodesAreNotPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	since := testEpoch.Add(-time.Hour)
	mustInsertNode(t, s, createPendingBatchNode("a", "co-phd", "elr", testEpoch))
	mustInsertNode(t, s, createPendingBatchNode("b", "co-phd", "elr", testEpoch.Add(time.Minute)))

	batch := createTestNode("batch-a", ir.ActionBatch, 2*time.Minute)
	batch.ReceivingOrg, batch.ReceivingOrgSvc = "co-phd", "elr"
	edge := ir.LineageEdge{ParentID: "a", ChildID: "batch-a", CreatedAt: batch.CreatedAt}
	require.NoError(t, s.RecordStep(ctx, batch, []ir.LineageEdge{edge}, nil))

	// Even unclaimed, a node with a batch child is never batched again.
	n, err := s.CountReportsNeedingBatch(ctx, "co-phd.elr", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	nodes, err := s.FetchAndLockBatchNodes(ctx, "co-phd.elr", 10, since, testEpoch)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "b", nodes[0].ID)
}

func TestCheckRecentlySent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	send := createTestNode("send-1", ir.ActionSend, 0)
	send.ReceivingOrg = "co-phd"
	send.ReceivingOrgSvc = "elr"
	send.TransportResult = `{"status":"ok"}`
	mustInsertNode(t, s, send)

	recent, err := s.CheckRecentlySent(ctx, "co-phd.elr", testEpoch.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = s.CheckRecentlySent(ctx, "co-phd.elr", testEpoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, recent, "send before the window")

	recent, err = s.CheckRecentlySent(ctx, "md-phd.elr", testEpoch.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, recent, "different receiver")
}

func TestPrefixedAndPlaceholders(t *testing.T) {
	assert.Equal(t, "n.a, n.b", prefixed("n.", " a,\n\tb"))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
