// Package worker runs the single consumer that turns triggers into fresh views.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/lunchvote/internal/adapters/mq/queue"
	"github.com/okian/lunchvote/pkg/logger"
	"github.com/okian/lunchvote/pkg/metrics"
)

// Recomputer re-derives state in response to a trigger.
type Recomputer interface {
	Recompute(ctx context.Context, t queue.Trigger) error
}

// Queue defines how the worker receives triggers.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Trigger
}

// Worker serializes recomputation. There is exactly one per service so views
// are published in trigger order.
type Worker struct {
	queue      Queue
	recomputer Recomputer
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// New creates a worker reading from q.
func New(q Queue, r Recomputer, opts ...Option) *Worker {
	w := &Worker{
		queue:      q,
		recomputer: r,
		name:       "recompute",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes triggers until ctx is cancelled, Shutdown is called, or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	triggers := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-triggers:
			if !ok {
				return
			}
			if err := w.process(ctx, t); err != nil {
				w.logger.Error(ctx, "recompute failed",
					logger.String("worker", w.name),
					logger.String("trigger", string(t.Kind)),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the loop and waits for the in-flight trigger.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out", logger.String("worker", w.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) process(ctx context.Context, t queue.Trigger) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := w.recomputer.Recompute(ctx, t); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "recompute")
		return fmt.Errorf("recompute after %s trigger: %w", t.Kind, err)
	}
	return nil
}
