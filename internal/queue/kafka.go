package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roach88/reportflow/internal/clock"
)

// VisibleAtHeader carries a message's visibility time in RFC 3339 format.
const VisibleAtHeader = "reportflow-visible-at"

// DefaultWriteTimeout bounds every Kafka write.
const DefaultWriteTimeout = 5 * time.Second

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	WriteTimeout time.Duration
	Clock        clock.Clock
}

// kafkaReader is the part of *kafka.Reader the consumer uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is a Transport backed by Kafka topics, one per queue name.
type Kafka struct {
	cfg       KafkaConfig
	writer    *kafka.Writer
	newReader func(topic string) kafkaReader

	mu        sync.Mutex
	consumers map[string]*kafkaConsumer
	closed    bool
}

var _ Transport = (*Kafka)(nil)

// NewKafka creates a Kafka transport. Brokers must be non-empty.
// Call Close when shutting down.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "reportflow-batch-worker"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	// Topic is left empty so each message names its own queue.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	k := &Kafka{cfg: cfg, writer: writer, consumers: make(map[string]*kafkaConsumer)}
	k.newReader = func(topic string) kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		})
	}
	return k, nil
}

// Enqueue writes body to the topic named queueName. The write is bounded by
// the configured timeout so a slow broker does not stall a decider run.
func (k *Kafka) Enqueue(ctx context.Context, queueName string, body []byte, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	writeCtx, cancel := context.WithTimeout(ctx, k.cfg.WriteTimeout)
	defer cancel()

	msg := encodeKafkaMessage(queueName, body, k.cfg.Clock.Now().Add(delay))
	if err := k.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("kafka enqueue %s: %w", queueName, err)
	}
	return nil
}

// Receive returns the earliest visible message on queueName. Messages are
// fetched in the background as they arrive, so a long delay on one message
// does not hold back later messages that are already visible. The offset is
// committed only on Ack.
func (k *Kafka) Receive(ctx context.Context, queueName string) (Message, error) {
	c, err := k.consumer(queueName)
	if err != nil {
		return Message{}, err
	}
	return c.receive(ctx)
}

// Ack marks the message done. Offsets are committed per partition up to the
// lowest message still outstanding.
func (k *Kafka) Ack(ctx context.Context, msg Message) error {
	km, ok := msg.receipt.(kafka.Message)
	if !ok {
		return fmt.Errorf("ack %s: message was not received from kafka", msg.ID)
	}
	c, err := k.consumer(msg.Queue)
	if err != nil {
		return err
	}
	if err := c.ack(ctx, km); err != nil {
		return fmt.Errorf("kafka ack %s: %w", msg.ID, err)
	}
	return nil
}

func (k *Kafka) consumer(queueName string) (*kafkaConsumer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, ErrClosed
	}
	if c, ok := k.consumers[queueName]; ok {
		return c, nil
	}
	c := newKafkaConsumer(k.newReader(queueName), k.cfg.Clock)
	k.consumers[queueName] = c
	return c, nil
}

// Close closes the writer and every reader. Safe to call multiple times.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	errs := []error{k.writer.Close()}
	for _, c := range k.consumers {
		errs = append(errs, c.close())
	}
	return errors.Join(errs...)
}

// fetchRetryDelay is how long the fetch loop backs off after a broker error.
const fetchRetryDelay = time.Second

// kafkaConsumer buffers fetched messages for one topic and hands them out in
// VisibleAt order.
type kafkaConsumer struct {
	r     kafkaReader
	clock clock.Clock

	mu       sync.Mutex
	pending  []Message             // fetched, not yet received; sorted by VisibleAt
	inflight map[int][]*kafkaOffset // per partition, in offset order
	fetchErr error
	changed  chan struct{}
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

type kafkaOffset struct {
	msg   kafka.Message
	acked bool
}

func newKafkaConsumer(r kafkaReader, c clock.Clock) *kafkaConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	kc := &kafkaConsumer{
		r:        r,
		clock:    c,
		inflight: make(map[int][]*kafkaOffset),
		changed:  make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go kc.fetchLoop(ctx)
	return kc
}

func (c *kafkaConsumer) fetchLoop(ctx context.Context) {
	defer close(c.done)
	for {
		km, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.fetchErr = err
			c.broadcast()
			c.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		msg, decodeErr := decodeKafkaMessage(km)

		c.mu.Lock()
		off := &kafkaOffset{msg: km}
		c.inflight[km.Partition] = append(c.inflight[km.Partition], off)
		if decodeErr != nil {
			// Undeliverable; let the commit watermark move past it.
			off.acked = true
			c.fetchErr = decodeErr
		} else {
			i, _ := slices.BinarySearchFunc(c.pending, msg.VisibleAt, func(m Message, t time.Time) int {
				if m.VisibleAt.After(t) {
					return 1
				}
				return -1
			})
			c.pending = slices.Insert(c.pending, i, msg)
		}
		c.broadcast()
		c.mu.Unlock()
	}
}

// broadcast wakes every waiter. Callers hold c.mu.
func (c *kafkaConsumer) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *kafkaConsumer) receive(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Message{}, ErrClosed
		}
		if err := c.fetchErr; err != nil {
			c.fetchErr = nil
			c.mu.Unlock()
			return Message{}, fmt.Errorf("kafka receive: %w", err)
		}
		var wait time.Duration
		if len(c.pending) > 0 {
			head := c.pending[0]
			wait = head.VisibleAt.Sub(c.clock.Now())
			if wait <= 0 {
				c.pending = c.pending[1:]
				c.mu.Unlock()
				return head, nil
			}
		}
		changed := c.changed
		c.mu.Unlock()

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

func (c *kafkaConsumer) ack(ctx context.Context, km kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	offsets := c.inflight[km.Partition]
	for _, o := range offsets {
		if o.msg.Offset == km.Offset {
			o.acked = true
			break
		}
	}

	// Commit the longest acknowledged prefix only, so a delayed message
	// that is still outstanding is redelivered after a restart.
	n := 0
	for n < len(offsets) && offsets[n].acked {
		n++
	}
	if n == 0 {
		return nil
	}
	if err := c.r.CommitMessages(ctx, offsets[n-1].msg); err != nil {
		return err
	}
	c.inflight[km.Partition] = offsets[n:]
	return nil
}

func (c *kafkaConsumer) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.broadcast()
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return c.r.Close()
}

func encodeKafkaMessage(queueName string, body []byte, visibleAt time.Time) kafka.Message {
	return kafka.Message{
		Topic: queueName,
		Value: body,
		Headers: []kafka.Header{
			{Key: VisibleAtHeader, Value: []byte(visibleAt.UTC().Format(time.RFC3339Nano))},
		},
	}
}

func decodeKafkaMessage(km kafka.Message) (Message, error) {
	msg := Message{
		ID:      fmt.Sprintf("%s/%d/%d", km.Topic, km.Partition, km.Offset),
		Queue:   km.Topic,
		Body:    km.Value,
		receipt: km,
	}
	for _, h := range km.Headers {
		if h.Key != VisibleAtHeader {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, string(h.Value))
		if err != nil {
			return Message{}, fmt.Errorf("message %s: bad %s header: %w", msg.ID, VisibleAtHeader, err)
		}
		msg.VisibleAt = t
	}
	if msg.VisibleAt.IsZero() {
		msg.VisibleAt = km.Time
	}
	return msg, nil
}
