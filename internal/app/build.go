package service

import (
	"context"
	"fmt"

	"github.com/okian/lunchvote/internal/adapters/notify"
	"github.com/okian/lunchvote/internal/adapters/repository"
	"github.com/okian/lunchvote/internal/config"
	"github.com/okian/lunchvote/internal/domain/catalog"
	"github.com/okian/lunchvote/internal/domain/resolver"
	"github.com/okian/lunchvote/pkg/logger"
)

// FromConfig assembles a Service from cfg: the store backend, the filtered
// catalog in the configured timezone, the resolver and the notifier. The
// service is returned unstarted.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	loc, err := catalog.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(cfg.Options(), catalog.WithFilter(cfg.CatalogFilter), catalog.WithLocation(loc))
	if err != nil {
		return nil, err
	}
	res := resolver.New(cat,
		resolver.WithGracePeriod(cfg.GracePeriod),
		resolver.WithStopOnWinner(cfg.StopOnWinner),
	)

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	n, err := notify.New(ctx, cfg.Notifier, cfg.RedisURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build notifier: %w", err)
	}

	base := []Option{
		WithNotifier(n),
		WithQueueSize(cfg.TriggerQueueSize),
		WithDedupeSize(cfg.DedupeSize),
	}
	return New(store, res, append(base, opts...)...), nil
}

// OpenStore opens the store backend named by cfg.Store.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	opts := []repository.Option{
		repository.WithQuorumSize(cfg.QuorumSize),
		repository.WithPollInterval(cfg.PollInterval),
		repository.WithLogger(logger.Named("store")),
	}
	switch cfg.Store {
	case "", config.StoreMemory:
		return repository.NewMemoryStore(opts...), nil
	case config.StoreSQLite, config.StoreMySQL:
		st, err := repository.OpenSQL(ctx, cfg.Store, cfg.DSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnsupportedDriver, cfg.Store)
	}
}
