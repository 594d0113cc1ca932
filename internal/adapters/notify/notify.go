// Package notify announces check-ins to interested parties outside the
// shared state store.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/pkg/logger"
	"github.com/okian/lunchvote/pkg/metrics"
)

// Supported notifier kinds.
const (
	KindNone  = "none"
	KindLog   = "log"
	KindRedis = "redis"
)

// Notifier is told about every successful check-in.
type Notifier interface {
	NotifyCheckIn(ctx context.Context, p model.Participant) error
	Name() string
	Close() error
}

// CheckInEvent is the payload published for a check-in.
type CheckInEvent struct {
	Username    string    `json:"username"`
	Origin      string    `json:"origin,omitempty"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

func eventFor(p model.Participant) CheckInEvent {
	return CheckInEvent{Username: p.Username, Origin: p.OriginAddress, CheckedInAt: p.CheckedInAt}
}

// New builds the notifier named by kind.
func New(ctx context.Context, kind, redisURL string) (Notifier, error) {
	switch kind {
	case "", KindNone:
		return Noop{}, nil
	case KindLog:
		return NewLogNotifier(logger.Named("notify")), nil
	case KindRedis:
		return NewRedisNotifier(ctx, redisURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNotifier, kind)
	}
}

// Noop discards notifications.
type Noop struct{}

func (Noop) NotifyCheckIn(context.Context, model.Participant) error { return nil }
func (Noop) Name() string { return KindNone }
func (Noop) Close() error { return nil }

// LogNotifier writes each check-in to the log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier returns a notifier that logs to l.
func NewLogNotifier(l logger.Logger) *LogNotifier {
	return &LogNotifier{log: l}
}

func (n *LogNotifier) NotifyCheckIn(ctx context.Context, p model.Participant) error {
	n.log.Info(ctx, "checked in",
		logger.String("username", p.Username),
		logger.String("origin", p.OriginAddress),
		logger.Time("at", p.CheckedInAt))
	metrics.RecordNotification(KindLog, "ok")
	return nil
}

func (n *LogNotifier) Name() string { return KindLog }
func (n *LogNotifier) Close() error { return nil }
