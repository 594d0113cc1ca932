// Package scheduler re-runs resolution when a moving grace deadline passes.
package scheduler

import (
	"sync"
	"time"

	"github.com/okian/lunchvote/pkg/metrics"
)

// settle is added to the deadline so the callback observes an instant
// strictly after it, which is when an option becomes final.
const settle = time.Millisecond

// DeadlineTimer is a one-shot timer keyed to a single deadline. Arming it
// with the deadline it already holds is a no-op; a different deadline
// cancels the pending fire and re-arms.
type DeadlineTimer struct {
	mu       sync.Mutex
	deadline time.Time
	timer    *time.Timer
	fire     func(deadline time.Time)
	now      func() time.Time
	stopped  bool
}

// Option applies a configuration option to the DeadlineTimer.
type Option func(*DeadlineTimer)

// WithClock overrides the time source used to compute delays.
func WithClock(now func() time.Time) Option {
	return func(t *DeadlineTimer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewDeadlineTimer returns a disarmed timer that calls fire once per armed deadline.
func NewDeadlineTimer(fire func(deadline time.Time), opts ...Option) *DeadlineTimer {
	t := &DeadlineTimer{fire: fire, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Arm schedules fire for deadline. A zero deadline disarms. It reports
// whether the schedule changed.
func (t *DeadlineTimer) Arm(deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	if deadline.IsZero() {
		return t.disarmLocked()
	}
	if t.timer != nil && t.deadline.Equal(deadline) {
		return false
	}

	t.disarmLocked()
	t.deadline = deadline
	delay := deadline.Sub(t.now()) + settle
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, func() { t.expire(deadline) })
	metrics.UpdateGraceTimerArmed(true)
	return true
}

// Deadline returns the armed deadline, or the zero time.
func (t *DeadlineTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Stop disarms the timer permanently.
func (t *DeadlineTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.stopped = true
}

func (t *DeadlineTimer) disarmLocked() bool {
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.deadline = time.Time{}
	metrics.UpdateGraceTimerArmed(false)
	return true
}

func (t *DeadlineTimer) expire(deadline time.Time) {
	t.mu.Lock()
	// A re-arm may have raced with this fire.
	if t.stopped || !t.deadline.Equal(deadline) {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.deadline = time.Time{}
	t.mu.Unlock()

	metrics.UpdateGraceTimerArmed(false)
	metrics.RecordGraceTimerFired()
	t.fire(deadline)
}
