package bus

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Pop when no message arrived before the timeout.
var ErrEmpty = errors.New("bus: queue empty")

// Broker moves opaque messages between named queues. Every consumer of a queue
// competes for its messages; each message is handed to one consumer.
type Broker interface {
	// Push appends data to queue. A positive ttl lets the broker discard the
	// queue when nobody drains it.
	Push(ctx context.Context, queue string, data []byte, ttl time.Duration) error
	// Pop removes the oldest message, waiting up to timeout.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Close() error
}
