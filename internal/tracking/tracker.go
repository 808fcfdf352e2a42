// Package tracking is the write path of the lineage store: it records
// submissions and the artifacts pipeline steps derive from them.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/reportflow/internal/clock"
	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
	"github.com/roach88/reportflow/internal/logging"
	"github.com/roach88/reportflow/internal/metrics"
)

// DefaultIntakeStatus is the intake HTTP status of an accepted submission.
const DefaultIntakeStatus = 201

// Writer persists lineage steps atomically.
type Writer interface {
	RecordStep(ctx context.Context, node ir.ReportNode, edges []ir.LineageEdge, logs []ir.ActionLogEntry) error
	ReadNode(ctx context.Context, id string) (ir.ReportNode, error)
}

// BodyStore uploads report bodies.
type BodyStore interface {
	Upload(ctx context.Context, data []byte, format ir.Format) (ir.BodyLocation, error)
}

// Submission is an incoming report from a sender.
type Submission struct {
	SenderOrg    string
	SenderClient string
	Topic        string
	Format       ir.Format
	SchemaName   string
	ExternalName string
	Body         []byte
	ItemCount    int

	// IntakeStatus is the HTTP status the intake returned; zero means 201.
	IntakeStatus int

	// Logs are intake findings recorded against the new report.
	Logs []ir.ActionLogEntry
}

// Step is one pipeline action deriving a new report from its parents.
type Step struct {
	Parents      []string
	Action       ir.ActionKind
	NextAction   ir.ActionKind
	NextActionAt *time.Time

	// Receiver is "org.svc" for destination-bound reports.
	Receiver string

	ItemCount                    int
	ItemCountBeforeQualityFilter *int
	SchemaName                   string

	// Body is uploaded when set. BodyLocation reuses an already stored body
	// and takes precedence.
	Body         []byte
	BodyLocation ir.BodyLocation
	Format       ir.Format

	TransportResult string
	DownloadedBy    string

	Logs []ir.ActionLogEntry
}

// Tracker records submissions and pipeline steps.
type Tracker struct {
	store   Writer
	bodies  BodyStore
	clock   clock.Clock
	ids     IDGenerator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithIDGenerator sets the submission id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracker) { t.ids = g }
}

// WithMetrics records counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker. bodies may be nil when no step carries a body.
func New(store Writer, bodies BodyStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		bodies: bodies,
		clock:  clock.System{},
		ids:    UUIDv7Generator{},
		logger: logging.Component("tracking"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit stores the body and records the ingress node of a new submission.
func (t *Tracker) Submit(ctx context.Context, sub Submission) (ir.ReportNode, error) {
	node, logs, err := t.ingress(sub)
	if err != nil {
		return ir.ReportNode{}, err
	}

	if len(sub.Body) > 0 {
		node.Body, err = t.upload(ctx, sub.Body, sub.Format)
		if err != nil {
			return ir.ReportNode{}, fmt.Errorf("submit: %w", err)
		}
	}

	if err := t.store.RecordStep(ctx, node, nil, logs); err != nil {
		return ir.ReportNode{}, fmt.Errorf("submit: %w", err)
	}
	t.metrics.IncReportsRecorded(string(node.Action))
	t.logger.Info("submission received", "report_id", node.ID, "sender", sub.SenderOrg, "items", node.ItemCount)
	return node, nil
}

// Preview builds the snapshot Submit would record, without storing anything.
// It backs validate-only submissions.
func (t *Tracker) Preview(sub Submission) (lineage.Snapshot, error) {
	node, logs, err := t.ingress(sub)
	if err != nil {
		return lineage.Snapshot{}, err
	}
	g, err := lineage.New([]ir.ReportNode{node}, nil)
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("preview: %w", err)
	}
	return lineage.Snapshot{RootID: node.ID, Graph: g, Logs: logs}, nil
}

func (t *Tracker) ingress(sub Submission) (ir.ReportNode, []ir.ActionLogEntry, error) {
	if sub.SenderOrg == "" {
		return ir.ReportNode{}, nil, errors.New("submit: sender organization is required")
	}
	if sub.ItemCount < 0 {
		return ir.ReportNode{}, nil, fmt.Errorf("submit: negative item count %d", sub.ItemCount)
	}

	now := t.now()
	status := sub.IntakeStatus
	if status == 0 {
		status = DefaultIntakeStatus
	}

	node := ir.ReportNode{
		ID:               t.ids.Generate(),
		CreatedAt:        now,
		Action:           ir.ActionReceive,
		NextAction:       ir.ActionNone,
		ItemCount:        sub.ItemCount,
		Body:             ir.BodyLocation{Format: sub.Format},
		SchemaName:       sub.SchemaName,
		Topic:            sub.Topic,
		ExternalName:     sub.ExternalName,
		SendingOrg:       sub.SenderOrg,
		SendingOrgClient: sub.SenderClient,
		IntakeStatus:     status,
	}
	// Rejected submissions are never routed.
	if status == 200 || status == 201 {
		node.NextAction = ir.ActionRoute
		node.NextActionAt = &now
	}

	logs, err := bindLogs(sub.Logs, node.ID, now)
	if err != nil {
		return ir.ReportNode{}, nil, fmt.Errorf("submit: %w", err)
	}
	return node, logs, nil
}

// Record derives a new report from its parents and stores it with its
// edges and logs in one transaction. The child is never older than any
// parent.
func (t *Tracker) Record(ctx context.Context, step Step) (ir.ReportNode, error) {
	if step.Action == ir.ActionReceive || !ir.ValidActions[step.Action] {
		return ir.ReportNode{}, fmt.Errorf("record: invalid action %q", step.Action)
	}
	next := step.NextAction
	if next == "" {
		next = ir.ActionNone
	}
	if !ir.ValidActions[next] {
		return ir.ReportNode{}, fmt.Errorf("record: invalid next action %q", next)
	}

	node := ir.ReportNode{
		CreatedAt:                    t.now(),
		Action:                       step.Action,
		NextAction:                   next,
		ItemCount:                    step.ItemCount,
		ItemCountBeforeQualityFilter: step.ItemCountBeforeQualityFilter,
		SchemaName:                   step.SchemaName,
		TransportResult:              step.TransportResult,
		DownloadedBy:                 step.DownloadedBy,
		Body:                         step.BodyLocation,
	}
	if step.Receiver != "" {
		org, svc, ok := ir.SplitFullName(step.Receiver)
		if !ok {
			return ir.ReportNode{}, fmt.Errorf("record: invalid receiver %q", step.Receiver)
		}
		node.ReceivingOrg, node.ReceivingOrgSvc = org, svc
	}

	for _, pid := range step.Parents {
		parent, err := t.store.ReadNode(ctx, pid)
		if err != nil {
			return ir.ReportNode{}, fmt.Errorf("record: parent %s: %w", pid, err)
		}
		if parent.CreatedAt.After(node.CreatedAt) {
			node.CreatedAt = parent.CreatedAt
		}
		if node.Topic == "" {
			node.Topic = parent.Topic
		}
	}

	if step.NextActionAt != nil {
		at := step.NextActionAt.UTC().Truncate(time.Microsecond)
		node.NextActionAt = &at
	} else if next != ir.ActionNone {
		at := node.CreatedAt
		node.NextActionAt = &at
	}

	if node.Body.IsZero() && step.Body != nil {
		loc, err := t.upload(ctx, step.Body, step.Format)
		if err != nil {
			return ir.ReportNode{}, fmt.Errorf("record: %w", err)
		}
		node.Body = loc
	}
	if node.Body.Format == "" {
		node.Body.Format = step.Format
	}

	id, err := ir.ReportID(step.Parents, node)
	if err != nil {
		return ir.ReportNode{}, fmt.Errorf("record: %w", err)
	}
	node.ID = id

	edges := make([]ir.LineageEdge, 0, len(step.Parents))
	for _, pid := range step.Parents {
		edges = append(edges, ir.LineageEdge{ParentID: pid, ChildID: id, CreatedAt: node.CreatedAt})
	}

	logs, err := bindLogs(step.Logs, id, node.CreatedAt)
	if err != nil {
		return ir.ReportNode{}, fmt.Errorf("record: %w", err)
	}

	if err := t.store.RecordStep(ctx, node, edges, logs); err != nil {
		return ir.ReportNode{}, fmt.Errorf("record: %w", err)
	}
	t.metrics.IncReportsRecorded(string(node.Action))
	t.logger.Debug("step recorded", "report_id", id, "action", node.Action, "receiver", step.Receiver, "parents", len(edges))
	return node, nil
}

// now is truncated to the store's timestamp precision so a node read back
// equals the node recorded.
func (t *Tracker) now() time.Time {
	return t.clock.Now().UTC().Truncate(time.Microsecond)
}

func (t *Tracker) upload(ctx context.Context, body []byte, format ir.Format) (ir.BodyLocation, error) {
	if t.bodies == nil {
		return ir.BodyLocation{}, errors.New("no body store configured")
	}
	return t.bodies.Upload(ctx, body, format)
}

// bindLogs attaches logs to reportID, validating each. Entries without an id
// are keyed by their position so repeated identical messages are all kept.
func bindLogs(in []ir.ActionLogEntry, reportID string, at time.Time) ([]ir.ActionLogEntry, error) {
	out := make([]ir.ActionLogEntry, 0, len(in))
	for i, l := range in {
		l.ReportID = reportID
		if l.CreatedAt.IsZero() {
			l.CreatedAt = at
		}
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if l.ID == "" {
			id, err := ir.LogIDAt(l, i)
			if err != nil {
				return nil, err
			}
			l.ID = id
		}
		out = append(out, l)
	}
	return out, nil
}
