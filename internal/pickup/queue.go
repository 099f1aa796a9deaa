package pickup

import (
	"context"
	"sync"
	"time"

	"feeder/internal/bundle"
)

// DefaultQueueSize bounds a Queue created with a non-positive size.
const DefaultQueueSize = 5

// Queue is a bounded FIFO of bundles waiting for local processing.
type Queue struct {
	mu    sync.Mutex
	items []*bundle.Bundle
	max   int
	// wake holds at most one pending signal for Wait.
	wake chan struct{}
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Queue{max: size, wake: make(chan struct{}, 1)}
}

// Enqueue appends b. A nil or empty bundle is accepted and dropped; a full
// queue rejects b and returns false.
func (q *Queue) Enqueue(b *bundle.Bundle) bool {
	if b == nil || b.IsEmpty() {
		return true
	}
	q.mu.Lock()
	if len(q.items) >= q.max {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.Signal()
	return true
}

// Dequeue removes and returns the oldest bundle, or nil when empty.
func (q *Queue) Dequeue() *bundle.Bundle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b
}

// CanHold reports whether n more bundles fit.
func (q *Queue) CanHold(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)+n <= q.max
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int { return q.max }

// Signal wakes one Wait call, or the next one if none is waiting.
func (q *Queue) Signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal, d elapses or ctx is done. It reports whether it
// was woken by a signal.
func (q *Queue) Wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-q.wake:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
