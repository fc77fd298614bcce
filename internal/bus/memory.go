package bus

import (
	"context"
	"sync"
	"time"
)

const memoryQueueDepth = 1024

// MemoryBroker implements Broker with in-process channels.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan []byte
}

// NewMemoryBroker constructs an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]chan []byte)}
}

func (b *MemoryBroker) queue(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan []byte, memoryQueueDepth)
		b.queues[name] = q
	}
	return q
}

// Push enqueues a copy of data. ttl is ignored.
func (b *MemoryBroker) Push(ctx context.Context, queue string, data []byte, _ time.Duration) error {
	msg := append([]byte(nil), data...)
	select {
	case b.queue(queue) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits for a message, the timeout, or ctx cancellation.
func (b *MemoryBroker) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-b.queue(queue):
		return msg, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of pending messages on queue.
func (b *MemoryBroker) Len(queue string) int {
	return len(b.queue(queue))
}

// Close is a no-op.
func (b *MemoryBroker) Close() error { return nil }
