package repository

import (
	"time"

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/pkg/logger"
)

const defaultPollInterval = time.Second

type settings struct {
	now          func() time.Time
	quorumSize   int
	version      string
	pollInterval time.Duration
	logger       logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		now:          time.Now,
		quorumSize:   model.DefaultQuorumSize,
		version:      model.SchemaVersion,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("repository")
	}
	return s
}

// Option configures a store.
type Option func(*settings)

// WithClock sets the time source used to stamp check-ins and votes.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithQuorumSize sets the quorum published in every snapshot.
func WithQuorumSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.quorumSize = n
		}
	}
}

// WithSchemaVersion sets the version tag published in every snapshot.
func WithSchemaVersion(v string) Option {
	return func(s *settings) {
		if v != "" {
			s.version = v
		}
	}
}

// WithPollInterval sets how often the SQL store looks for remote changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
