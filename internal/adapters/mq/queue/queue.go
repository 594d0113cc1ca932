// Package queue carries resolution triggers from state changes and timers
// to the single resolver worker.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/lunchvote/pkg/metrics"
)

const defaultQueueCapacity = 64

// Kind names what caused a trigger.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindDeadline Kind = "deadline"
	// KindRollover fires at local midnight, when a new day's order starts.
	KindRollover Kind = "rollover"
)

// Trigger asks the worker to re-derive the view. It carries no state: the
// worker always resolves the latest snapshot, so triggers are interchangeable.
type Trigger struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a trigger. It returns false only when the queue is closed;
	// a full queue already holds a pending trigger, so the new one is coalesced.
	Enqueue(ctx context.Context, t Trigger) bool

	// Dequeue returns a channel that receives triggers until the queue is closed.
	Dequeue(ctx context.Context) <-chan Trigger

	Len(ctx context.Context) int
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	triggers chan Trigger
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.triggers = make(chan Trigger, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a trigger to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Trigger) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}

	select {
	case q.triggers <- t:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.triggers))
	default:
		metrics.RecordQueueDropped()
	}
	return true
}

// Dequeue returns a channel that will receive triggers as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Trigger {
	out := make(chan Trigger)
	go func() {
		defer close(out)
		for t := range q.triggers {
			select {
			case out <- t:
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueSize(len(q.triggers))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued triggers.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	return len(q.triggers)
}

// Close stops accepting triggers and closes the dequeue channel once drained.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.triggers)
	q.closed = true
	return nil
}
