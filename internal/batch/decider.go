package batch

import (
	"context"
	"errors"
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

// DefaultRetries is how many missed batch periods the decider still looks
// back over when counting pending reports.
const DefaultRetries = 2

// RecentSendWindow is how far back the once-per-day empty batch throttle
// looks for a send.
const RecentSendWindow = 24 * time.Hour

// Repository is the read side of the lineage store the decider needs.
type Repository interface {
	// CountReportsNeedingBatch counts unclaimed reports for receiver whose
	// next action is batch, scheduled at or after since.
	CountReportsNeedingBatch(ctx context.Context, receiver string, since time.Time) (int, error)

	// CheckRecentlySent reports whether anything was sent to receiver at or
	// after since.
	CheckRecentlySent(ctx context.Context, receiver string, since time.Time) (bool, error)
}

// Decider decides, per receiver, how many dispatch messages to enqueue.
type Decider struct {
	settings settings.Provider
	repo     Repository
	queue    queue.Enqueuer
	queues   QueueNames
	clock    clock.Clock
	ids      tracking.IDGenerator
	retries  int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// DeciderOption configures a Decider.
type DeciderOption func(*Decider)

// WithQueueNames overrides the work queue names.
func WithQueueNames(q QueueNames) DeciderOption {
	return func(d *Decider) { d.queues = q }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) DeciderOption {
	return func(d *Decider) { d.clock = c }
}

// WithIDGenerator sets the dispatch message id source.
func WithIDGenerator(g tracking.IDGenerator) DeciderOption {
	return func(d *Decider) { d.ids = g }
}

// WithRetries sets how many missed periods are still counted.
func WithRetries(n int) DeciderOption {
	return func(d *Decider) { d.retries = n }
}

// WithMetrics records decisions on m.
func WithMetrics(m *metrics.Metrics) DeciderOption {
	return func(d *Decider) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DeciderOption {
	return func(d *Decider) { d.logger = l }
}

// NewDecider creates a Decider.
func NewDecider(provider settings.Provider, repo Repository, q queue.Enqueuer, opts ...DeciderOption) *Decider {
	d := &Decider{
		settings: provider,
		repo:     repo,
		queue:    q,
		queues:   DefaultQueueNames,
		clock:    clock.System{},
		ids:      tracking.UUIDv7Generator{},
		retries:  DefaultRetries,
		logger:   logging.Component("batch-decider"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// decision is the outcome for one receiver.
type decision struct {
	messages int
	empty    bool
}

// DetermineQueueMessageCount returns how many dispatch messages receiver r
// should get at now, and whether any should be sent at all.
//
// Invalid timing and closed batch windows yield (0, false). With nothing
// pending, one empty-batch message is allowed unless the receiver's empty
// policy is NONE or a once-per-day throttle already saw a send. Otherwise
// the count is ceil(pending / MaxReportCount).
func (d *Decider) DetermineQueueMessageCount(ctx context.Context, r settings.Receiver, now time.Time) (int, bool, error) {
	dec, err := d.decide(ctx, r, now)
	if err != nil {
		return 0, false, err
	}
	return dec.messages, dec.messages > 0, nil
}

func (d *Decider) decide(ctx context.Context, r settings.Receiver, now time.Time) (decision, error) {
	t := r.Timing
	if t == nil || !t.IsValid() {
		return decision{}, nil
	}
	if !t.BatchInPrevious60Seconds(now) {
		return decision{}, nil
	}

	name := r.FullName()
	pending, err := d.repo.CountReportsNeedingBatch(ctx, name, now.Add(-t.BatchLookback(d.retries)))
	if err != nil {
		return decision{}, &ReceiverError{Receiver: name, Op: OpCount, Err: err}
	}

	if pending == 0 {
		if t.WhenEmpty.Action != settings.EmptyActionSend {
			return decision{}, nil
		}
		if t.WhenEmpty.OnlyOncePerDay {
			sent, err := d.repo.CheckRecentlySent(ctx, name, now.Add(-RecentSendWindow))
			if err != nil {
				return decision{}, &ReceiverError{Receiver: name, Op: OpRecentSend, Err: err}
			}
			if sent {
				return decision{}, nil
			}
		}
		return decision{messages: 1, empty: true}, nil
	}

	return decision{messages: (pending + t.MaxReportCount - 1) / t.MaxReportCount}, nil
}

// Dispatch records what one receiver was sent in a run.
type Dispatch struct {
	Receiver string          `json:"receiver"`
	Queue    string          `json:"queue"`
	Messages int             `json:"messages"`
	Empty    bool            `json:"empty"`
	Delays   []time.Duration `json:"delays_ns"`
}

// RunReport summarizes one decider run.
type RunReport struct {
	At         time.Time  `json:"at"`
	Receivers  int        `json:"receivers"`
	Dispatches []Dispatch `json:"dispatches"`
	Errors     []error    `json:"-"`
}

// Err joins every receiver failure of the run, or returns nil.
func (r RunReport) Err() error {
	return errors.Join(r.Errors...)
}

// Run evaluates every configured receiver once, in full-name order, and
// enqueues their dispatch messages. A failing receiver is recorded in the
// report and does not stop the others.
func (d *Decider) Run(ctx context.Context) RunReport {
	started := time.Now()
	now := d.clock.Now()
	report := RunReport{At: now, Dispatches: []Dispatch{}}

	for _, r := range d.settings.Receivers() {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err)
			break
		}
		report.Receivers++

		dispatch, err := d.runReceiver(ctx, r, now)
		if err != nil {
			op := OpEnqueue
			var re *ReceiverError
			if errors.As(err, &re) {
				op = re.Op
			}
			d.metrics.IncDeciderError(r.FullName(), op)
			d.logger.Error("receiver failed", "receiver", r.FullName(), "op", op, "error", err)
			report.Errors = append(report.Errors, err)
		}
		if dispatch.Messages > 0 {
			report.Dispatches = append(report.Dispatches, dispatch)
		}
	}

	d.metrics.ObserveDeciderRun(time.Since(started))
	return report
}

// runReceiver decides for r and enqueues its messages. On an enqueue failure
// the messages already enqueued are still reported.
func (d *Decider) runReceiver(ctx context.Context, r settings.Receiver, now time.Time) (Dispatch, error) {
	name := r.FullName()
	queueName := d.queues.For(r)
	log := logging.ReceiverLogger(d.logger, name, queueName)

	dec, err := d.decide(ctx, r, now)
	if err != nil {
		return Dispatch{}, err
	}
	log.Debug("decided", "messages", dec.messages, "empty", dec.empty)

	out := Dispatch{Receiver: name, Queue: queueName, Empty: dec.empty, Delays: []time.Duration{}}
	for i := 0; i < dec.messages; i++ {
		ev := Event{
			ID:         d.ids.Generate(),
			Action:     ir.ActionBatch,
			Receiver:   name,
			EmptyBatch: dec.empty,
			At:         now,
		}
		body, err := ev.Encode()
		if err != nil {
			return out, &ReceiverError{Receiver: name, Op: OpEncode, Err: err}
		}
		delay := r.Timing.StaggerDelay(i)
		if err := d.queue.Enqueue(ctx, queueName, body, delay); err != nil {
			return out, &ReceiverError{Receiver: name, Op: OpEnqueue, Err: err}
		}
		out.Messages++
		out.Delays = append(out.Delays, delay)
		d.metrics.AddDispatch(name, queueName, dec.empty, 1)
	}
	if out.Messages > 0 {
		log.Info("dispatched", "messages", out.Messages, "empty", dec.empty)
	}
	return out, nil
}

// Loop runs the decider every interval until ctx is done. Run failures are
// logged; the loop keeps going.
func (d *Decider) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.Run(ctx).Err(); err != nil && ctx.Err() == nil {
			d.logger.Warn("run finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
