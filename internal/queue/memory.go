package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/reportflow/internal/clock"
)

// DefaultLease is how long a received message stays hidden before it is
// delivered again.
const DefaultLease = 5 * time.Minute

// Memory is a thread-safe in-memory delayed queue.
//
// Queues are unbounded so a decider run can fan out any number of messages
// without blocking. Waiters are woken through a broadcast channel that is
// closed and replaced on every change, which lets Receive wait with a
// context instead of hanging.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	lease   time.Duration
	seq     int64
	queues  map[string][]*entry
	changed chan struct{}
	closed  bool
}

type entry struct {
	msg Message
	seq int64
}

var _ Transport = (*Memory)(nil)

// NewMemory creates an empty queue. A nil clock uses the system clock.
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.System{}
	}
	return &Memory{
		clock:   c,
		lease:   DefaultLease,
		queues:  make(map[string][]*entry),
		changed: make(chan struct{}),
	}
}

// SetLease changes how long received messages stay hidden.
func (q *Memory) SetLease(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lease = d
}

// Enqueue adds body to queueName, visible after delay.
func (q *Memory) Enqueue(_ context.Context, queueName string, body []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if delay < 0 {
		delay = 0
	}

	q.seq++
	e := &entry{
		seq: q.seq,
		msg: Message{
			ID:        fmt.Sprintf("%s-%d", queueName, q.seq),
			Queue:     queueName,
			Body:      slices.Clone(body),
			VisibleAt: q.clock.Now().Add(delay),
		},
	}
	q.queues[queueName] = append(q.queues[queueName], e)
	q.broadcast()
	return nil
}

// broadcast wakes every waiter. Callers hold q.mu.
func (q *Memory) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// TryReceive returns the earliest visible message without blocking and hides
// it for the lease duration.
func (q *Memory) TryReceive(queueName string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok, _ := q.takeLocked(queueName)
	return msg, ok
}

// takeLocked leases the earliest visible message. When none is visible it
// returns how long until the next one will be, or zero if the queue is empty.
func (q *Memory) takeLocked(queueName string) (Message, bool, time.Duration) {
	now := q.clock.Now()
	var best *entry
	for _, e := range q.queues[queueName] {
		if best == nil || e.msg.VisibleAt.Before(best.msg.VisibleAt) ||
			(e.msg.VisibleAt.Equal(best.msg.VisibleAt) && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return Message{}, false, 0
	}
	if best.msg.VisibleAt.After(now) {
		return Message{}, false, best.msg.VisibleAt.Sub(now)
	}

	out := best.msg
	out.Body = slices.Clone(best.msg.Body)
	out.receipt = best.seq
	best.msg.VisibleAt = now.Add(q.lease)
	return out, true, 0
}

// Receive blocks until a message on queueName is visible, ctx is done or
// the queue is closed.
func (q *Memory) Receive(ctx context.Context, queueName string) (Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrClosed
		}
		msg, ok, wait := q.takeLocked(queueName)
		changed := q.changed
		q.mu.Unlock()

		if ok {
			return msg, nil
		}

		var timer *time.Timer
		var fired <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Message{}, ctx.Err()
		case <-changed:
		case <-fired:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Ack deletes a received message. Acknowledging a message twice is a no-op.
func (q *Memory) Ack(_ context.Context, msg Message) error {
	seq, ok := msg.receipt.(int64)
	if !ok {
		return fmt.Errorf("ack %s: message was not received from this queue", msg.ID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.queues[msg.Queue]
	for i, e := range entries {
		if e.seq == seq {
			// Nil out the slot so the body can be collected.
			entries[i] = nil
			q.queues[msg.Queue] = slices.Delete(entries, i, i+1)
			break
		}
	}
	return nil
}

// Len returns the number of messages on queueName, visible or not.
func (q *Memory) Len(queueName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queueName])
}

// Pending returns a copy of every message on queueName ordered by
// visibility time.
func (q *Memory) Pending(queueName string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := slices.Clone(q.queues[queueName])
	slices.SortStableFunc(entries, func(a, b *entry) int {
		if c := a.msg.VisibleAt.Compare(b.msg.VisibleAt); c != 0 {
			return c
		}
		return int(a.seq - b.seq)
	})

	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		m := e.msg
		m.Body = slices.Clone(e.msg.Body)
		out = append(out, m)
	}
	return out
}

// Close wakes all waiters; later operations return ErrClosed.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.broadcast()
	return nil
}
