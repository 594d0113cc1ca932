// Package service wires the store, resolver and recompute pipeline together
// and exposes the operations the HTTP API and the watch command use.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/okian/lunchvote/internal/adapters/mq/queue"
	"github.com/okian/lunchvote/internal/adapters/mq/worker"
	"github.com/okian/lunchvote/internal/adapters/notify"
	"github.com/okian/lunchvote/internal/adapters/repository"
	"github.com/okian/lunchvote/internal/adapters/scheduler"
	"github.com/okian/lunchvote/internal/domain/catalog"
	"github.com/okian/lunchvote/internal/domain/dedupe"
	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/internal/domain/resolver"
	"github.com/okian/lunchvote/pkg/logger"
	"github.com/okian/lunchvote/pkg/metrics"
)

const (
	defaultQueueSize  = 64
	defaultDedupeSize = 4096
	shutdownTimeout   = 5 * time.Second
)

// VoteRequest is a single yes/no vote submission.
type VoteRequest struct {
	Username  string `json:"username" validate:"required"`
	OptionID  int    `json:"option_id" validate:"required"`
	Approve   *bool  `json:"approve" validate:"required"`
	RequestID string `json:"request_id,omitempty" validate:"omitempty,max=128"`
}

// ParticipantRequest names the user checking in or out.
type ParticipantRequest struct {
	Username string `json:"username" validate:"required,max=191"`
}

type watcher struct {
	identity func() model.Identity
	fn       func(model.View)
}

// Service owns the observed snapshot and republishes the derived view
// whenever the snapshot changes or a grace deadline elapses.
type Service struct {
	mu sync.Mutex // lifecycle

	store    repository.Store
	resolver *resolver.Resolver
	notifier notify.Notifier
	validate *validator.Validate

	deduper  dedupe.Deduper
	triggers *queue.InMemoryQueue
	worker   *worker.Worker
	timer    *scheduler.DeadlineTimer
	rollover *scheduler.DeadlineTimer

	state    sync.RWMutex
	snapshot *model.Snapshot
	view     model.View
	final    map[int]model.Status
	watchers map[string]watcher

	queueSize  int
	dedupeSize int
	now        func() time.Time

	started     bool
	cancel      context.CancelFunc
	unsubscribe func()
	runCtx      context.Context

	logger logger.Logger
}

// New constructs a Service over store. It does nothing until Start.
func New(store repository.Store, res *resolver.Resolver, opts ...Option) *Service {
	s := &Service{
		store:      store,
		resolver:   res,
		notifier:   notify.Noop{},
		validate:   validator.New(),
		final:      make(map[int]model.Status),
		watchers:   make(map[string]watcher),
		queueSize:  defaultQueueSize,
		dedupeSize: defaultDedupeSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start subscribes to the store and begins recomputing views.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx = runCtx
	s.cancel = cancel

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.triggers = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.timer = scheduler.NewDeadlineTimer(func(deadline time.Time) {
		s.triggers.Enqueue(runCtx, queue.Trigger{Kind: queue.KindDeadline, At: deadline})
	}, scheduler.WithClock(s.now))
	s.rollover = scheduler.NewDeadlineTimer(func(midnight time.Time) {
		s.triggers.Enqueue(runCtx, queue.Trigger{Kind: queue.KindRollover, At: midnight})
	}, scheduler.WithClock(s.now))
	s.worker = worker.New(s.triggers, s, worker.WithLogger(s.logger.Named("worker")))
	go s.worker.Run(runCtx)

	unsubscribe, err := s.store.Subscribe(runCtx, s.observe)
	if err != nil {
		cancel()
		_ = s.triggers.Close()
		return fmt.Errorf("subscribe to %s store: %w", s.store.Name(), err)
	}
	s.unsubscribe = unsubscribe
	s.started = true

	s.logger.Info(ctx, "lunch vote service started",
		logger.String("store", s.store.Name()),
		logger.String("notifier", s.notifier.Name()),
		logger.Duration("grace", s.resolver.GracePeriod()),
		logger.Int("options", s.resolver.Catalog().Len()))
	return nil
}

// Stop unsubscribes, drains the pipeline and closes the store and notifier.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping lunch vote service")

	s.unsubscribe()
	s.timer.Stop()
	s.rollover.Stop()
	_ = s.triggers.Close()

	sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.worker.Shutdown(sctx); err != nil {
		s.logger.Warn(ctx, "worker shutdown", logger.Error(err))
	}
	s.cancel()

	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "close store", logger.Error(err))
	}
	if err := s.notifier.Close(); err != nil {
		s.logger.Warn(ctx, "close notifier", logger.Error(err))
	}
	s.started = false
	s.logger.Info(ctx, "lunch vote service stopped")
}

// observe stores the newest snapshot and asks the worker to recompute.
func (s *Service) observe(snap model.Snapshot) {
	s.state.Lock()
	s.snapshot = &snap
	s.state.Unlock()
	s.triggers.Enqueue(s.runCtx, queue.Trigger{Kind: queue.KindSnapshot, At: s.now()})
}

// Recompute resolves the latest snapshot, re-arms the grace and day timers
// and publishes the view to every watcher.
func (s *Service) Recompute(ctx context.Context, t queue.Trigger) error {
	start := time.Now()
	now := s.now()

	s.state.RLock()
	snap := s.snapshot
	watchers := make([]watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.state.RUnlock()

	view := s.resolver.Resolve(snap, now, model.Identity{})
	metrics.RecordResolution(float64(time.Since(start).Microseconds()) / 1000)

	s.timer.Arm(nextDeadline(view))
	s.rollover.Arm(s.nextDay(now))
	s.track(ctx, view)

	s.state.Lock()
	s.view = view
	s.state.Unlock()

	for _, w := range watchers {
		w.fn(s.resolver.Resolve(snap, now, w.identity()))
	}

	s.logger.Debug(ctx, "recomputed view",
		logger.String("trigger", string(t.Kind)),
		logger.Bool("connected", view.Connected),
		logger.Int("watchers", len(watchers)))
	return nil
}

// nextDeadline is the earliest pending grace deadline, or zero.
func nextDeadline(view model.View) time.Time {
	var next time.Time
	for _, st := range view.Options {
		if st.GracePeriodEnd == nil {
			continue
		}
		if next.IsZero() || st.GracePeriodEnd.Before(next) {
			next = *st.GracePeriodEnd
		}
	}
	return next
}

// nextDay is the start of the day after now's. Today's votes and the option
// order change then without any write.
func (s *Service) nextDay(now time.Time) time.Time {
	loc := s.resolver.Catalog().Location()
	return catalog.StartOfDay(catalog.StartOfDay(now, loc).Add(36*time.Hour), loc)
}

// track logs and counts options that became final since the last view.
func (s *Service) track(ctx context.Context, view model.View) {
	if !view.Connected {
		return
	}
	metrics.UpdateCheckedIn(len(view.CheckedIn))

	votes := 0
	seen := make(map[int]bool, len(view.Options))
	for _, st := range view.Options {
		votes += st.Tally.Total()
		seen[st.Option.ID] = true
		if !st.Status.Final() {
			delete(s.final, st.Option.ID)
			continue
		}
		if s.final[st.Option.ID] == st.Status {
			continue
		}
		s.final[st.Option.ID] = st.Status
		metrics.RecordOptionResolved(string(st.Status))
		s.logger.Info(ctx, "option resolved",
			logger.Int("option", st.Option.ID),
			logger.String("name", st.Option.Name),
			logger.String("status", string(st.Status)),
			logger.Int("yes", st.Tally.Yes),
			logger.Int("no", st.Tally.No))
	}
	for id := range s.final {
		if !seen[id] {
			delete(s.final, id)
		}
	}
	metrics.UpdateVotesToday(votes)
}

// View resolves the latest snapshot for id at the current instant.
func (s *Service) View(id model.Identity) model.View {
	s.state.RLock()
	snap := s.snapshot
	s.state.RUnlock()
	return s.resolver.Resolve(snap, s.now(), id)
}

// Options returns the catalog in today's order.
func (s *Service) Options() (time.Time, []model.Option) {
	return s.resolver.Catalog().Daily(s.now())
}

// Watch registers fn to receive a view resolved for identity after every
// recompute. The current view is delivered before Watch returns; later ones
// arrive on the worker goroutine.
func (s *Service) Watch(identity func() model.Identity, fn func(model.View)) func() {
	id := uuid.NewString()
	s.state.Lock()
	s.watchers[id] = watcher{identity: identity, fn: fn}
	n := len(s.watchers)
	s.state.Unlock()
	metrics.UpdateViewWatchers(n)

	fn(s.View(identity()))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.state.Lock()
			delete(s.watchers, id)
			n := len(s.watchers)
			s.state.Unlock()
			metrics.UpdateViewWatchers(n)
		})
	}
}

// CheckIn marks username as present, then tells the notifier. A notifier
// failure is reported after the check-in has been stored.
func (s *Service) CheckIn(ctx context.Context, username, origin string) error {
	if err := s.check(ParticipantRequest{Username: username}); err != nil {
		return err
	}
	p, err := s.store.CheckIn(ctx, username, origin)
	if err != nil {
		return err
	}
	metrics.RecordCheckIn()

	if err := s.notifier.NotifyCheckIn(ctx, p); err != nil {
		metrics.RecordErrorByComponent("service", "notify")
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	return nil
}

// CheckOut removes username from the checked-in set.
func (s *Service) CheckOut(ctx context.Context, username string) error {
	if err := s.check(ParticipantRequest{Username: username}); err != nil {
		return err
	}
	if err := s.store.CheckOut(ctx, username); err != nil {
		return err
	}
	metrics.RecordCheckOut()
	return nil
}

// CastVote records a vote. Votes on unknown options and on options that are
// already final are refused. Finality is judged by the store at the instant
// it stamps the vote, so a resolved option stays resolved.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) error {
	if err := s.check(req); err != nil {
		metrics.RecordVoteRejected("validation")
		return err
	}
	if _, ok := s.resolver.Catalog().Lookup(req.OptionID); !ok {
		metrics.RecordVoteRejected("unknown_option")
		return fmt.Errorf("%w: %d", ErrUnknownOption, req.OptionID)
	}

	err := s.store.CastVote(ctx, req.Username, req.OptionID, req.Approve, s.openGuard(req.OptionID))
	if errors.Is(err, ErrOptionResolved) {
		metrics.RecordVoteRejected("option_resolved")
	}
	if err != nil {
		return err
	}
	metrics.RecordVoteCast(*req.Approve)
	return nil
}

// openGuard refuses a vote on optionID if the option is final at the vote's
// stamp time.
func (s *Service) openGuard(optionID int) repository.VoteGuard {
	return func(snap model.Snapshot, at time.Time) error {
		st, ok := s.resolver.StatusOf(&snap, at, optionID)
		if ok && st.Final() {
			return fmt.Errorf("%w: %d is %s", ErrOptionResolved, optionID, st)
		}
		return nil
	}
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// SeenAndRecord reports whether a vote request id was already applied and
// records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	if s.deduper == nil {
		return false
	}
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordVoteDuplicate()
	}
	return seen
}

// Unrecord forgets a request id so the client may retry.
func (s *Service) Unrecord(ctx context.Context, id string) {
	if s.deduper != nil {
		s.deduper.Unrecord(ctx, id)
	}
}

// Started reports whether Start has completed.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.state.RLock()
	view := s.view
	watchers := len(s.watchers)
	s.state.RUnlock()

	stats := map[string]any{
		"started":       started,
		"store":         s.store.Name(),
		"notifier":      s.notifier.Name(),
		"grace_period":  s.resolver.GracePeriod().String(),
		"options":       s.resolver.Catalog().Len(),
		"connected":     view.Connected,
		"watchers":      watchers,
		"checked_in":    len(view.CheckedIn),
		"participants":  len(view.Participants),
		"queueCapacity": s.queueSize,
	}
	if started {
		stats["queueLength"] = s.triggers.Len(context.Background())
		stats["dedupeSize"] = s.deduper.Size()
		if d := s.timer.Deadline(); !d.IsZero() {
			stats["next_deadline"] = d
		}
		if d := s.rollover.Deadline(); !d.IsZero() {
			stats["next_rollover"] = d
		}
	}
	if view.Current != nil {
		stats["current_option"] = view.Current.Option.ID
		stats["current_status"] = string(view.Current.Status)
	}
	return stats
}
