package lineage

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/reportflow/internal/ir"
)

// ErrNoIngress is returned when a snapshot has no single ingress root.
var ErrNoIngress = errors.New("submission has no ingress node")

// Snapshot is a point-in-time copy of one submission: its root, the full
// descendant graph and every action log written against those nodes.
type Snapshot struct {
	RootID string
	Graph  *Graph
	Logs   []ir.ActionLogEntry
}

// Root returns the ingress node of the submission. The root must be a
// receive node with no parents in the graph.
func (s Snapshot) Root() (ir.ReportNode, error) {
	n, ok := s.Graph.Node(s.RootID)
	if !ok {
		return ir.ReportNode{}, fmt.Errorf("root %s: %w", s.RootID, ErrNoIngress)
	}
	if n.Action != ir.ActionReceive {
		return ir.ReportNode{}, fmt.Errorf("root %s is a %s node: %w", s.RootID, n.Action, ErrNoIngress)
	}
	if len(s.Graph.Parents(n.ID)) > 0 {
		return ir.ReportNode{}, fmt.Errorf("root %s has parents: %w", s.RootID, ErrNoIngress)
	}
	return n, nil
}

// LogsFor returns the logs recorded against reportID, in snapshot order.
func (s Snapshot) LogsFor(reportID string) []ir.ActionLogEntry {
	out := []ir.ActionLogEntry{}
	for _, l := range s.Logs {
		if l.ReportID == reportID {
			out = append(out, l)
		}
	}
	return out
}

// NextActionScheduled reports whether any node at the frontier of the graph
// still expects an action. Interior nodes keep the next action they were
// created with, so only leaves say whether work remains.
func (s Snapshot) NextActionScheduled() bool {
	for _, n := range s.Graph.Leaves() {
		if n.HasNextAction() {
			return true
		}
	}
	return false
}

// LatestHasNextAction reports whether any node in the most recently created
// group still expects an action.
func (s Snapshot) LatestHasNextAction() bool {
	nodes := s.Graph.Nodes()
	if len(nodes) == 0 {
		return false
	}
	latest := nodes[len(nodes)-1].CreatedAt
	for i := len(nodes) - 1; i >= 0 && nodes[i].CreatedAt.Equal(latest); i-- {
		if nodes[i].HasNextAction() {
			return true
		}
	}
	return false
}

// LatestGeneration returns the nodes sharing the most recent next-action
// schedule. Nodes are grouped by equality of NextActionAt; a nil schedule is
// older than any timestamp. Ties on the latest timestamp form one group.
func LatestGeneration(nodes []ir.ReportNode) []ir.ReportNode {
	var latest *time.Time
	for _, n := range nodes {
		if n.NextActionAt != nil && (latest == nil || n.NextActionAt.After(*latest)) {
			t := *n.NextActionAt
			latest = &t
		}
	}

	out := make([]ir.ReportNode, 0, len(nodes))
	for _, n := range nodes {
		if sameSchedule(n.NextActionAt, latest) {
			out = append(out, n)
		}
	}
	return out
}

func sameSchedule(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
