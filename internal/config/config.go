// Package config defines service configuration and its loader.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/lunchvote/internal/domain/catalog"
	"github.com/okian/lunchvote/internal/domain/model"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// Store selects the shared state backend.
	Store string `koanf:"store" validate:"oneof=memory sqlite mysql"`
	// DSN is the database/sql data source for sqlite and mysql.
	DSN string `koanf:"dsn" validate:"required_unless=Store memory"`
	// PollInterval is how often SQL subscribers look for remote changes.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	QuorumSize  int           `koanf:"quorum_size" validate:"gte=1"`
	GracePeriod time.Duration `koanf:"grace_period" validate:"gte=0"`
	// Timezone defines the local day boundary.
	Timezone string `koanf:"timezone" validate:"required"`
	// StopOnWinner keeps the first resolved-yes option active instead of
	// moving on to the next open one.
	StopOnWinner bool `koanf:"stop_on_winner"`

	// Catalog lists the options; empty means the built-in list.
	Catalog []model.Option `koanf:"catalog" validate:"dive"`
	// CatalogFilter is an expr-lang predicate over id, name, url and price.
	CatalogFilter string `koanf:"catalog_filter"`

	// Notifier is none, log or redis.
	Notifier string `koanf:"notifier" validate:"oneof=none log redis"`
	RedisURL string `koanf:"redis_url" validate:"required_if=Notifier redis"`

	TriggerQueueSize int `koanf:"trigger_queue_size" validate:"gte=1"`
	DedupeSize       int `koanf:"dedupe_size" validate:"gte=0"`
}

// New returns the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		Store:            StoreMemory,
		PollInterval:     time.Second,
		QuorumSize:       model.DefaultQuorumSize,
		GracePeriod:      time.Minute,
		Timezone:         catalog.DefaultTimezone,
		Notifier:         "none",
		TriggerQueueSize: 64,
		DedupeSize:       4096,
	}
}

// Options returns the configured catalog or the built-in one.
func (c *Config) Options() []model.Option {
	if len(c.Catalog) == 0 {
		return catalog.DefaultOptions
	}
	return c.Catalog
}

// Validate checks field constraints and that the timezone exists.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := catalog.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
