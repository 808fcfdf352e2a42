package lineage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func node(id string, offset time.Duration, next ir.ActionKind) ir.ReportNode {
	return ir.ReportNode{ID: id, CreatedAt: t0.Add(offset), Action: ir.ActionTranslate, NextAction: next}
}

func edge(parent, child string) ir.LineageEdge {
	return ir.LineageEdge{ParentID: parent, ChildID: child, CreatedAt: t0}
}

func ingress(id string) ir.ReportNode {
	n := node(id, 0, ir.ActionRoute)
	n.Action = ir.ActionReceive
	return n
}

func fanOut(t *testing.T) *Graph {
	t.Helper()
	g, err := New(
		[]ir.ReportNode{
			node("send-a", 3*time.Minute, ir.ActionNone),
			ingress("root"),
			node("a", time.Minute, ir.ActionSend),
			node("b", time.Minute, ir.ActionBatch),
		},
		[]ir.LineageEdge{edge("root", "a"), edge("root", "b"), edge("a", "send-a"), edge("root", "a")},
	)
	require.NoError(t, err)
	return g
}

func ids(nodes []ir.ReportNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestNew_DeterministicOrder(t *testing.T) {
	g := fanOut(t)

	assert.Equal(t, []string{"root", "a", "b", "send-a"}, ids(g.Nodes()))
	assert.Equal(t, []string{"a", "b"}, ids(g.Children("root")))
	assert.Equal(t, []string{"root"}, ids(g.Parents("a")))
	assert.Len(t, g.Edges(), 3, "duplicate edge collapsed")
}

func TestRootsAndLeaves(t *testing.T) {
	g := fanOut(t)
	assert.Equal(t, []string{"root"}, ids(g.Roots()))
	assert.Equal(t, []string{"b", "send-a"}, ids(g.Leaves()))
}

func TestNew_RejectsUnknownNode(t *testing.T) {
	_, err := New([]ir.ReportNode{node("a", 0, ir.ActionNone)}, []ir.LineageEdge{edge("a", "ghost")})
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestNew_RejectsCycle(t *testing.T) {
	_, err := New(
		[]ir.ReportNode{node("a", 0, ir.ActionNone), node("b", 0, ir.ActionNone)},
		[]ir.LineageEdge{edge("a", "b"), edge("b", "a")},
	)
	assert.ErrorIs(t, err, ErrNotDAG)
}

func TestDescendants(t *testing.T) {
	g := fanOut(t)

	sub, err := g.Descendants("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "send-a"}, ids(sub.Nodes()))
	assert.Len(t, sub.Edges(), 1)

	_, err = g.Descendants("ghost")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestDescendants_MergedBatchIncluded(t *testing.T) {
	// Two submissions batched into one node: descendants of either root
	// include the shared batch node.
	g, err := New(
		[]ir.ReportNode{
			node("r1", 0, ir.ActionBatch),
			node("r2", 0, ir.ActionBatch),
			node("batch", time.Minute, ir.ActionSend),
		},
		[]ir.LineageEdge{edge("r1", "batch"), edge("r2", "batch")},
	)
	require.NoError(t, err)

	sub, err := g.Descendants("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "batch"}, ids(sub.Nodes()))
}
