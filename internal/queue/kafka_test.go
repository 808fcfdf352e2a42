package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/clock"
)

func TestNewKafka_RequiresBrokers(t *testing.T) {
	_, err := NewKafka(KafkaConfig{})
	assert.Error(t, err)
}

func TestNewKafka_Defaults(t *testing.T) {
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer k.Close()

	assert.Equal(t, "reportflow-batch-worker", k.cfg.GroupID)
	assert.Equal(t, DefaultWriteTimeout, k.cfg.WriteTimeout)
	assert.Empty(t, k.writer.Topic, "messages name their own topic")
}

func TestKafkaMessageRoundTrip(t *testing.T) {
	visible := time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC)
	km := encodeKafkaMessage("batch", []byte(`{"x":1}`), visible)
	assert.Equal(t, "batch", km.Topic)

	km.Partition = 3
	km.Offset = 42
	msg, err := decodeKafkaMessage(km)
	require.NoError(t, err)
	assert.Equal(t, "batch/3/42", msg.ID)
	assert.Equal(t, "batch", msg.Queue)
	assert.Equal(t, visible, msg.VisibleAt)
	assert.Equal(t, `{"x":1}`, string(msg.Body))
}

func TestDecodeKafkaMessage_FallsBackToMessageTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := decodeKafkaMessage(kafka.Message{Topic: "batch", Time: ts})
	require.NoError(t, err)
	assert.Equal(t, ts, msg.VisibleAt)
}

func TestDecodeKafkaMessage_BadHeader(t *testing.T) {
	_, err := decodeKafkaMessage(kafka.Message{
		Topic:   "batch",
		Headers: []kafka.Header{{Key: VisibleAtHeader, Value: []byte("yesterday")}},
	})
	assert.Error(t, err)
}

// chanReader feeds FetchMessage from a channel and records commits.
type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newChanReader() *chanReader {
	return &chanReader{msgs: make(chan kafka.Message, 16)}
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestKafka(t *testing.T, c clock.Clock) (*Kafka, *chanReader) {
	t.Helper()
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Clock: c})
	require.NoError(t, err)
	r := newChanReader()
	k.newReader = func(string) kafkaReader { return r }
	t.Cleanup(func() { k.Close() })
	return k, r
}

func kafkaAt(offset int64, body string, visible time.Time) kafka.Message {
	km := encodeKafkaMessage("batch", []byte(body), visible)
	km.Offset = offset
	return km
}

func TestKafkaReceive_DelayedHeadDoesNotBlock(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	k, r := newTestKafka(t, fake)

	r.msgs <- kafkaAt(0, "later", now.Add(10*time.Minute))
	r.msgs <- kafkaAt(1, "now", now)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := k.Receive(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, "now", string(first.Body))

	fake.Advance(10 * time.Minute)
	second, err := k.Receive(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, "later", string(second.Body))
}

func TestKafkaAck_CommitsBehindOutstandingMessages(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	k, r := newTestKafka(t, fake)

	r.msgs <- kafkaAt(0, "later", now.Add(time.Minute))
	r.msgs <- kafkaAt(1, "now", now)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	visible, err := k.Receive(ctx, "batch")
	require.NoError(t, err)
	require.NoError(t, k.Ack(ctx, visible))
	assert.Empty(t, r.commits(), "offset 0 is still outstanding")

	fake.Advance(time.Minute)
	delayed, err := k.Receive(ctx, "batch")
	require.NoError(t, err)
	require.NoError(t, k.Ack(ctx, delayed))
	assert.Equal(t, []int64{1}, r.commits())
}

func TestKafkaReceive_AfterClose(t *testing.T) {
	k, _ := newTestKafka(t, clock.NewFake(time.Now()))
	require.NoError(t, k.Close())

	_, err := k.Receive(context.Background(), "batch")
	assert.ErrorIs(t, err, ErrClosed)
}
