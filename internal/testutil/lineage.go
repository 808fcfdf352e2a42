package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
)

// LineageBuilder assembles submission graphs for tests without a store.
// Times are given as offsets from the builder's base time.
type LineageBuilder struct {
	base   time.Time
	rootID string
	nodes  []ir.ReportNode
	edges  []ir.LineageEdge
	logs   []ir.ActionLogEntry
}

// NewLineage starts a builder at base.
func NewLineage(base time.Time) *LineageBuilder {
	return &LineageBuilder{base: base.UTC()}
}

// At returns base+offset.
func (b *LineageBuilder) At(offset time.Duration) time.Time {
	return b.base.Add(offset)
}

// AtPtr is At for optional timestamps.
func (b *LineageBuilder) AtPtr(offset time.Duration) *time.Time {
	t := b.At(offset)
	return &t
}

// Ingress adds the submission root. sender is "org" or "org.client".
func (b *LineageBuilder) Ingress(id, sender string, items, intakeStatus int, opts ...NodeOption) *LineageBuilder {
	org, client, ok := ir.SplitFullName(sender)
	if !ok {
		org, client = sender, ""
	}
	n := ir.ReportNode{
		ID:               id,
		CreatedAt:        b.base,
		Action:           ir.ActionReceive,
		NextAction:       ir.ActionRoute,
		ItemCount:        items,
		SendingOrg:       org,
		SendingOrgClient: client,
		IntakeStatus:     intakeStatus,
	}
	for _, opt := range opts {
		opt(&n)
	}
	b.rootID = id
	b.nodes = append(b.nodes, n)
	return b
}

// Child adds a node derived from parent at base+offset. receiver may be
// empty for nodes not bound to a destination.
func (b *LineageBuilder) Child(id, parent string, action ir.ActionKind, receiver string, items int, offset time.Duration, opts ...NodeOption) *LineageBuilder {
	n := ir.ReportNode{
		ID:         id,
		CreatedAt:  b.At(offset),
		Action:     action,
		NextAction: ir.ActionNone,
		ItemCount:  items,
	}
	if receiver != "" {
		n.ReceivingOrg, n.ReceivingOrgSvc, _ = ir.SplitFullName(receiver)
	}
	for _, opt := range opts {
		opt(&n)
	}
	b.nodes = append(b.nodes, n)
	b.edges = append(b.edges, ir.LineageEdge{ParentID: parent, ChildID: id, CreatedAt: n.CreatedAt})
	return b
}

// Edge adds an extra parent link, as a batch merging several reports has.
func (b *LineageBuilder) Edge(parent, child string) *LineageBuilder {
	var at time.Time
	for _, n := range b.nodes {
		if n.ID == child {
			at = n.CreatedAt
		}
	}
	b.edges = append(b.edges, ir.LineageEdge{ParentID: parent, ChildID: child, CreatedAt: at})
	return b
}

// Log records an action log entry.
func (b *LineageBuilder) Log(entry ir.ActionLogEntry) *LineageBuilder {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = b.base
	}
	b.logs = append(b.logs, entry)
	return b
}

// FilterLog records a filter log on reportID for receiver.
func (b *LineageBuilder) FilterLog(reportID, receiver, filterName string, originalCount int, trackingID string, args ...string) *LineageBuilder {
	if args == nil {
		args = []string{}
	}
	fr := &ir.FilterResult{
		ReceiverName:            receiver,
		OriginalCount:           originalCount,
		FilterName:              filterName,
		FilterArgs:              args,
		FilteredTrackingElement: trackingID,
		FilterType:              ir.FilterQuality,
	}
	return b.Log(ir.ActionLogEntry{
		ReportID:   reportID,
		Scope:      ir.ScopeItem,
		Level:      ir.LevelFilter,
		TrackingID: trackingID,
		Message:    fr.Message(),
		Filter:     fr,
	})
}

// Nodes returns the nodes added so far.
func (b *LineageBuilder) Nodes() []ir.ReportNode {
	return b.nodes
}

// Logs returns the logs added so far.
func (b *LineageBuilder) Logs() []ir.ActionLogEntry {
	return b.logs
}

// Edges returns the edges added so far.
func (b *LineageBuilder) Edges() []ir.LineageEdge {
	return b.edges
}

// Snapshot builds the lineage graph and fails the test if it is invalid.
func (b *LineageBuilder) Snapshot(t testing.TB) lineage.Snapshot {
	t.Helper()
	g, err := lineage.New(b.nodes, b.edges)
	require.NoError(t, err)
	return lineage.Snapshot{RootID: b.rootID, Graph: g, Logs: b.logs}
}

// NodeOption adjusts a node built by LineageBuilder.
type NodeOption func(*ir.ReportNode)

// WithNext schedules the node's next action.
func WithNext(action ir.ActionKind, at *time.Time) NodeOption {
	return func(n *ir.ReportNode) {
		n.NextAction = action
		n.NextActionAt = at
	}
}

// WithTransportResult marks the node as a completed send.
func WithTransportResult(result string) NodeOption {
	return func(n *ir.ReportNode) { n.TransportResult = result }
}

// WithDownloadedBy marks the node as downloaded.
func WithDownloadedBy(user string) NodeOption {
	return func(n *ir.ReportNode) { n.DownloadedBy = user }
}

// WithItemsBeforeQualityFilter records the pre-filter item count.
func WithItemsBeforeQualityFilter(count int) NodeOption {
	return func(n *ir.ReportNode) { n.ItemCountBeforeQualityFilter = &count }
}

// WithTopic sets the node's topic.
func WithTopic(topic string) NodeOption {
	return func(n *ir.ReportNode) { n.Topic = topic }
}

// WithExternalName sets the node's external name.
func WithExternalName(name string) NodeOption {
	return func(n *ir.ReportNode) { n.ExternalName = name }
}

// Submissions splits the builder's graph into one snapshot per root, the way
// a store reads each submission with its shared batch descendants.
func (b *LineageBuilder) Submissions(t testing.TB) []lineage.Snapshot {
	t.Helper()
	g, err := lineage.New(b.nodes, b.edges)
	require.NoError(t, err)

	var out []lineage.Snapshot
	for _, root := range g.Roots() {
		sub, err := g.Descendants(root.ID)
		require.NoError(t, err)
		var logs []ir.ActionLogEntry
		for _, l := range b.logs {
			if _, ok := sub.Node(l.ReportID); ok {
				logs = append(logs, l)
			}
		}
		out = append(out, lineage.Snapshot{RootID: root.ID, Graph: sub, Logs: logs})
	}
	return out
}
