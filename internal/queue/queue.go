package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("queue closed")

// Message is one queued payload.
type Message struct {
	ID        string
	Queue     string
	Body      []byte
	VisibleAt time.Time

	// receipt identifies the delivery to the transport that produced it.
	receipt any
}

// Enqueuer places messages on named queues.
type Enqueuer interface {
	// Enqueue makes body available on queueName once delay has elapsed.
	Enqueue(ctx context.Context, queueName string, body []byte, delay time.Duration) error
}

// Consumer receives messages from named queues.
type Consumer interface {
	// Receive blocks until a message on queueName is visible or ctx ends.
	Receive(ctx context.Context, queueName string) (Message, error)

	// Ack removes a received message so it is not delivered again.
	Ack(ctx context.Context, msg Message) error
}

// Transport is a queue that can both enqueue and consume.
type Transport interface {
	Enqueuer
	Consumer
	Close() error
}
