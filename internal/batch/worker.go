package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/reportflow/internal/clock"
	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/logging"
	"github.com/roach88/reportflow/internal/metrics"
	"github.com/roach88/reportflow/internal/queue"
	"github.com/roach88/reportflow/internal/settings"
	"github.com/roach88/reportflow/internal/tracking"
)

// ClaimStore hands out pending reports to one worker at a time.
type ClaimStore interface {
	// FetchAndLockBatchNodes claims up to limit unclaimed reports for
	// receiver scheduled at or after since, stamping the claims with now.
	FetchAndLockBatchNodes(ctx context.Context, receiver string, limit int, since, now time.Time) ([]ir.ReportNode, error)

	// ReleaseBatchClaims returns claimed reports to the pending pool.
	ReleaseBatchClaims(ctx context.Context, ids []string) error
}

// Recorder records derived reports.
type Recorder interface {
	Record(ctx context.Context, step tracking.Step) (ir.ReportNode, error)
}

// BodySource reads stored report bodies.
type BodySource interface {
	Download(ctx context.Context, loc ir.BodyLocation) ([]byte, error)
}

// Merger combines the bodies of several reports into one batch body.
// Bodies are opaque; a merger only needs to know the format.
type Merger interface {
	Merge(format ir.Format, bodies [][]byte) ([]byte, error)
}

// MergeFunc adapts a function to Merger.
type MergeFunc func(format ir.Format, bodies [][]byte) ([]byte, error)

// Merge calls f.
func (f MergeFunc) Merge(format ir.Format, bodies [][]byte) ([]byte, error) {
	return f(format, bodies)
}

// NewlineMerger joins bodies with a newline.
var NewlineMerger = MergeFunc(func(_ ir.Format, bodies [][]byte) ([]byte, error) {
	return bytes.Join(bodies, []byte("\n")), nil
})

// Worker turns dispatch messages into batch reports.
type Worker struct {
	settings settings.Provider
	claims   ClaimStore
	recorder Recorder
	bodies   BodySource
	merger   Merger
	clock    clock.Clock
	retries  int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithMerger sets how MERGE receivers combine bodies.
func WithMerger(m Merger) WorkerOption {
	return func(w *Worker) { w.merger = m }
}

// WithWorkerClock sets the time source.
func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(w *Worker) { w.clock = c }
}

// WithWorkerRetries sets how many missed periods are still claimed.
func WithWorkerRetries(n int) WorkerOption {
	return func(w *Worker) { w.retries = n }
}

// WithWorkerMetrics records batches on m.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a Worker. bodies may be nil when no receiver merges.
func NewWorker(provider settings.Provider, claims ClaimStore, recorder Recorder, bodies BodySource, opts ...WorkerOption) *Worker {
	w := &Worker{
		settings: provider,
		claims:   claims,
		recorder: recorder,
		bodies:   bodies,
		merger:   NewlineMerger,
		clock:    clock.System{},
		retries:  DefaultRetries,
		logger:   logging.Component("batch-worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle processes one dispatch message and returns the batch reports it
// recorded. A message that finds nothing to claim records nothing; another
// worker already drained the receiver.
func (w *Worker) Handle(ctx context.Context, ev Event) ([]ir.ReportNode, error) {
	r, err := w.settings.FindReceiver(ev.Receiver)
	if err != nil {
		return nil, &ReceiverError{Receiver: ev.Receiver, Op: OpReceiver, Err: err}
	}
	if r.Timing == nil {
		return nil, &ReceiverError{Receiver: ev.Receiver, Op: OpTiming, Err: errors.New("receiver has no batch timing")}
	}
	now := w.clock.Now()
	log := w.logger.With("receiver", ev.Receiver, "event_id", ev.ID)

	if ev.EmptyBatch {
		return w.emptyBatch(ctx, r, now, log)
	}

	since := now.Add(-r.Timing.BatchLookback(w.retries))
	pending, err := w.claims.FetchAndLockBatchNodes(ctx, ev.Receiver, r.Timing.MaxReportCount, since, now)
	if err != nil {
		return nil, &ReceiverError{Receiver: ev.Receiver, Op: OpClaim, Err: err}
	}
	if len(pending) == 0 {
		log.Debug("nothing to batch")
		return []ir.ReportNode{}, nil
	}

	var batches []ir.ReportNode
	if r.Timing.Operation == settings.OperationMerge && !r.Format.SingleItem() {
		var b ir.ReportNode
		if b, err = w.merge(ctx, r, pending, now); err == nil {
			batches = []ir.ReportNode{b}
		}
	} else {
		batches, err = w.each(ctx, r, pending, now)
	}
	if err != nil {
		// Reports that already have a batch child keep their claim.
		unbatched := pending[len(batches):]
		if rerr := w.claims.ReleaseBatchClaims(ctx, ids(unbatched)); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release claims: %w", rerr))
		}
		if len(batches) > 0 {
			w.metrics.AddBatches(ev.Receiver, len(batches))
			log.Warn("batched partially", "batches", len(batches), "released", len(unbatched))
		}
		return nil, err
	}

	w.metrics.AddBatches(ev.Receiver, len(batches))
	log.Info("batched", "reports", len(pending), "batches", len(batches))
	return batches, nil
}

func (w *Worker) emptyBatch(ctx context.Context, r settings.Receiver, now time.Time, log *slog.Logger) ([]ir.ReportNode, error) {
	if r.Format.SingleItem() {
		log.Warn("format cannot represent an empty batch, skipping", "format", r.Format)
		return []ir.ReportNode{}, nil
	}
	node, err := w.recorder.Record(ctx, tracking.Step{
		Action:       ir.ActionBatch,
		NextAction:   ir.ActionSend,
		NextActionAt: &now,
		Receiver:     r.FullName(),
		Body:         []byte{},
		Format:       r.Format,
	})
	if err != nil {
		return nil, &ReceiverError{Receiver: r.FullName(), Op: OpRecord, Err: err}
	}
	w.metrics.AddBatches(r.FullName(), 1)
	log.Info("empty batch recorded", "report_id", node.ID)
	return []ir.ReportNode{node}, nil
}

// merge records one batch report derived from every pending report.
func (w *Worker) merge(ctx context.Context, r settings.Receiver, pending []ir.ReportNode, now time.Time) (ir.ReportNode, error) {
	if w.bodies == nil {
		return ir.ReportNode{}, &ReceiverError{Receiver: r.FullName(), Op: OpDownload, Err: errors.New("no body source configured")}
	}

	bodies := make([][]byte, 0, len(pending))
	items := 0
	for _, n := range pending {
		items += n.ItemCount
		if n.Body.IsZero() {
			continue
		}
		b, err := w.bodies.Download(ctx, n.Body)
		if err != nil {
			return ir.ReportNode{}, &ReceiverError{Receiver: r.FullName(), Op: OpDownload, Err: fmt.Errorf("report %s: %w", n.ID, err)}
		}
		bodies = append(bodies, b)
	}

	merged, err := w.merger.Merge(r.Format, bodies)
	if err != nil {
		return ir.ReportNode{}, &ReceiverError{Receiver: r.FullName(), Op: OpMerge, Err: err}
	}

	node, err := w.recorder.Record(ctx, tracking.Step{
		Parents:      ids(pending),
		Action:       ir.ActionBatch,
		NextAction:   ir.ActionSend,
		NextActionAt: &now,
		Receiver:     r.FullName(),
		ItemCount:    items,
		Body:         merged,
		Format:       r.Format,
	})
	if err != nil {
		return ir.ReportNode{}, &ReceiverError{Receiver: r.FullName(), Op: OpRecord, Err: err}
	}
	return node, nil
}

// each records one batch report per pending report, reusing its body. On
// failure it returns the batches recorded so far, in pending order.
func (w *Worker) each(ctx context.Context, r settings.Receiver, pending []ir.ReportNode, now time.Time) ([]ir.ReportNode, error) {
	out := make([]ir.ReportNode, 0, len(pending))
	for _, n := range pending {
		node, err := w.recorder.Record(ctx, tracking.Step{
			Parents:      []string{n.ID},
			Action:       ir.ActionBatch,
			NextAction:   ir.ActionSend,
			NextActionAt: &now,
			Receiver:     r.FullName(),
			ItemCount:    n.ItemCount,
			BodyLocation: n.Body,
			Format:       r.Format,
		})
		if err != nil {
			return out, &ReceiverError{Receiver: r.FullName(), Op: OpRecord, Err: fmt.Errorf("report %s: %w", n.ID, err)}
		}
		out = append(out, node)
	}
	return out, nil
}

// Poll receives and handles dispatch messages from queueName until ctx is
// done, then returns nil. A message is acknowledged only after it was
// handled; failures are logged and left for redelivery. If the consumer is
// closed while ctx is still live, Poll returns queue.ErrClosed.
func (w *Worker) Poll(ctx context.Context, c queue.Consumer, queueName string) error {
	for {
		err := w.PollOnce(ctx, c, queueName)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, queue.ErrClosed):
			return fmt.Errorf("poll %s: %w", queueName, err)
		case err != nil:
			w.logger.Error("dispatch message failed", "queue", queueName, "error", err)
		}
	}
}

// PollOnce receives and processes a single message.
func (w *Worker) PollOnce(ctx context.Context, c queue.Consumer, queueName string) error {
	msg, err := c.Receive(ctx, queueName)
	if err != nil {
		return err
	}
	return w.Process(ctx, c, msg)
}

// Process handles a received message and acknowledges it on c once handled.
// Malformed messages are acknowledged too, since they never succeed.
func (w *Worker) Process(ctx context.Context, c queue.Consumer, msg queue.Message) error {
	ev, err := DecodeEvent(msg.Body)
	if err != nil {
		w.metrics.IncWorkerError(msg.Queue)
		if ackErr := c.Ack(ctx, msg); ackErr != nil {
			return errors.Join(err, ackErr)
		}
		return err
	}

	if _, err := w.Handle(ctx, ev); err != nil {
		w.metrics.IncWorkerError(msg.Queue)
		return err
	}
	return c.Ack(ctx, msg)
}

func ids(nodes []ir.ReportNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
