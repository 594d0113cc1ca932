package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/pkg/metrics"
)

// DefaultChannel is the pub/sub channel check-ins are published on.
const DefaultChannel = "lunchvote:checkins"

// RedisNotifier publishes check-ins on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// RedisOption configures a RedisNotifier.
type RedisOption func(*RedisNotifier)

// WithChannel overrides the publish channel.
func WithChannel(channel string) RedisOption {
	return func(n *RedisNotifier) {
		if channel != "" {
			n.channel = channel
		}
	}
}

// NewRedisNotifier connects to redisURL and verifies the connection.
func NewRedisNotifier(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisNotifier, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// Servers before Redis 8 reject the maint_notifications handshake.
	ropts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisNotifierFromClient(client, opts...), nil
}

// NewRedisNotifierFromClient wraps an existing client.
func NewRedisNotifierFromClient(client redis.UniversalClient, opts ...RedisOption) *RedisNotifier {
	n := &RedisNotifier{client: client, channel: DefaultChannel}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *RedisNotifier) NotifyCheckIn(ctx context.Context, p model.Participant) error {
	payload, err := json.Marshal(eventFor(p))
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrPublish, err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		metrics.RecordNotification(KindRedis, "error")
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	metrics.RecordNotification(KindRedis, "ok")
	return nil
}

func (n *RedisNotifier) Name() string { return KindRedis }

// Channel returns the publish channel.
func (n *RedisNotifier) Channel() string { return n.channel }

func (n *RedisNotifier) Close() error { return n.client.Close() }
