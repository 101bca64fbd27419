package queue

import (
	"context"
	"time"
)

// Delivery is one in-flight received message and the operations the
// transport offers on it. Exactly one of Ack, Delay, or Term should be
// called per delivery.
type Delivery interface {
	Message() Message

	// Ack removes the message from the queue.
	Ack() error

	// Delay hides the message for d and lets it be redelivered afterwards.
	// The message content is untouched.
	Delay(d time.Duration) error

	// Term drops the message permanently without delivering it again. Used
	// for unprocessable input.
	Term(reason string) error
}

// Sender is the enqueue-only side of the transport, for producers that
// never consume.
type Sender interface {
	Send(ctx context.Context, out Outbound) error
}

// Client is the durable queue transport consumed by the relay.
type Client interface {
	// Fetch returns up to max deliveries, blocking until at least one is
	// available or ctx is done.
	Fetch(ctx context.Context, max int) ([]Delivery, error)

	// Send enqueues a new message.
	Send(ctx context.Context, out Outbound) error
}
