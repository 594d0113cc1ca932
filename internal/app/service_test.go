package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/lunchvote/internal/adapters/repository"
	"github.com/okian/lunchvote/internal/domain/catalog"
	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/internal/domain/resolver"
	"github.com/okian/lunchvote/pkg/logger"
)

func init() {
	_ = logger.Init()
}

const testGrace = 150 * time.Millisecond

type failingNotifier struct{}

func (failingNotifier) NotifyCheckIn(context.Context, model.Participant) error {
	return errors.New("redis down")
}
func (failingNotifier) Name() string { return "failing" }
func (failingNotifier) Close() error { return nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []model.Participant
}

func (n *recordingNotifier) NotifyCheckIn(_ context.Context, p model.Participant) error {
	n.mu.Lock()
	n.seen = append(n.seen, p)
	n.mu.Unlock()
	return nil
}
func (n *recordingNotifier) Name() string { return "recording" }
func (n *recordingNotifier) Close() error { return nil }

// newClockedService stamps writes with storeClock and resolves with svcClock.
func newClockedService(storeClock, svcClock *testClock, opts ...Option) (*Service, *repository.MemoryStore) {
	cat, err := catalog.New(catalog.DefaultOptions)
	So(err, ShouldBeNil)
	res := resolver.New(cat, resolver.WithGracePeriod(testGrace))
	store := repository.NewMemoryStore(repository.WithQuorumSize(2), repository.WithClock(storeClock.Now))
	return New(store, res, append([]Option{WithClock(svcClock.Now)}, opts...)...), store
}

func newTestService(opts ...Option) (*Service, *repository.MemoryStore) {
	cat, err := catalog.New(catalog.DefaultOptions)
	So(err, ShouldBeNil)
	res := resolver.New(cat, resolver.WithGracePeriod(testGrace))
	store := repository.NewMemoryStore(repository.WithQuorumSize(2))
	return New(store, res, opts...), store
}

type viewFeed struct {
	mu    sync.Mutex
	views []model.View
	ch    chan struct{}
}

func newViewFeed() *viewFeed { return &viewFeed{ch: make(chan struct{}, 64)} }

func (f *viewFeed) push(v model.View) {
	f.mu.Lock()
	f.views = append(f.views, v)
	f.mu.Unlock()
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// await returns the first delivered view matching pred, or a zero view on timeout.
func (f *viewFeed) await(pred func(model.View) bool) (model.View, bool) {
	deadline := time.After(3 * time.Second)
	next := 0
	for {
		f.mu.Lock()
		for ; next < len(f.views); next++ {
			if pred(f.views[next]) {
				v := f.views[next]
				f.mu.Unlock()
				return v, true
			}
		}
		f.mu.Unlock()
		select {
		case <-f.ch:
		case <-deadline:
			return model.View{}, false
		}
	}
}

func approve(b bool) *bool { return &b }

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service that has not started", t, func() {
		svc, _ := newTestService()

		Convey("Then its view is the disconnected sentinel", func() {
			v := svc.View(model.Identity{})
			So(v.Connected, ShouldBeFalse)
			So(v.Options, ShouldBeEmpty)
			So(svc.Started(), ShouldBeFalse)
			So(svc.SeenAndRecord(context.Background(), "x"), ShouldBeFalse)
		})

		Convey("When started", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()

			Convey("Then the view is connected with today's options", func() {
				v := svc.View(model.Identity{})
				So(v.Connected, ShouldBeTrue)
				So(v.IncompatibleVersion, ShouldBeFalse)
				So(len(v.Options), ShouldEqual, len(catalog.DefaultOptions))
				So(v.Current, ShouldNotBeNil)
				So(v.Current.Status, ShouldEqual, model.StatusUndecided)

				_, opts := svc.Options()
				So(v.Current.Option, ShouldResemble, opts[0])
			})

			Convey("Then stats describe the running pipeline", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["store"], ShouldEqual, "memory")
				So(stats["notifier"], ShouldEqual, "none")
				So(stats, ShouldContainKey, "queueLength")
			})
		})
	})
}

func TestServiceWrites(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, _ := newTestService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When someone checks in twice", func() {
			So(svc.CheckIn(ctx, "alice", "10.0.0.1"), ShouldBeNil)
			err := svc.CheckIn(ctx, "alice", "10.0.0.1")

			Convey("Then the second check-in is refused", func() {
				So(errors.Is(err, ErrAlreadyCheckedIn), ShouldBeTrue)
			})

			Convey("And they are recognised by origin", func() {
				v := svc.View(model.Identity{Origin: "10.0.0.1"})
				So(v.Me, ShouldNotBeNil)
				So(v.Me.Username, ShouldEqual, "alice")
			})
		})

		Convey("When writes are malformed", func() {
			Convey("Then they fail validation", func() {
				So(errors.Is(svc.CheckIn(ctx, "", ""), ErrValidation), ShouldBeTrue)
				So(errors.Is(svc.CheckOut(ctx, ""), ErrValidation), ShouldBeTrue)
				So(errors.Is(svc.CastVote(ctx, VoteRequest{Username: "alice", OptionID: 1}), ErrValidation), ShouldBeTrue)
				So(errors.Is(svc.CastVote(ctx, VoteRequest{OptionID: 1, Approve: approve(true)}), ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When a vote names an option outside the catalog", func() {
			err := svc.CastVote(ctx, VoteRequest{Username: "alice", OptionID: 99, Approve: approve(true)})

			Convey("Then it is refused", func() {
				So(errors.Is(err, ErrUnknownOption), ShouldBeTrue)
			})
		})
	})
}

func TestServiceNotifyFailure(t *testing.T) {
	Convey("Given a service whose notifier fails", t, func() {
		ctx := context.Background()
		svc, store := newTestService(WithNotifier(failingNotifier{}))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When someone checks in", func() {
			err := svc.CheckIn(ctx, "alice", "")

			Convey("Then the failure is reported but the check-in stays committed", func() {
				So(errors.Is(err, ErrNotify), ShouldBeTrue)
				snap, serr := store.Snapshot(ctx)
				So(serr, ShouldBeNil)
				So(len(snap.CheckedIn), ShouldEqual, 1)
			})
		})
	})
}

func TestServiceGraceResolution(t *testing.T) {
	Convey("Given a started service and a watcher", t, func() {
		ctx := context.Background()
		svc, _ := newTestService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		feed := newViewFeed()
		stop := svc.Watch(func() model.Identity { return model.Identity{} }, feed.push)
		defer stop()

		_, opts := svc.Options()
		first := opts[0]

		Convey("When quorum agrees on the current option", func() {
			So(svc.CastVote(ctx, VoteRequest{Username: "alice", OptionID: first.ID, Approve: approve(true)}), ShouldBeNil)
			So(svc.CastVote(ctx, VoteRequest{Username: "bob", OptionID: first.ID, Approve: approve(true)}), ShouldBeNil)

			Convey("Then it enters the grace period", func() {
				v, ok := feed.await(func(v model.View) bool {
					return v.Current != nil && v.Current.Status == model.StatusPendingGrace
				})
				So(ok, ShouldBeTrue)
				So(v.GracePeriodEnd, ShouldNotBeNil)
				So(len(v.VotesForCurrent), ShouldEqual, 2)
			})

			Convey("Then the timer resolves it without further writes", func() {
				v, ok := feed.await(func(v model.View) bool {
					return len(v.Options) > 0 && v.Options[0].Status == model.StatusResolvedYes
				})
				So(ok, ShouldBeTrue)
				So(v.Options[0].Tally.Yes, ShouldEqual, 2)
				So(v.Current, ShouldNotBeNil)
				So(v.Current.Option.ID, ShouldEqual, opts[1].ID)

				Convey("And further votes on it are refused", func() {
					err := svc.CastVote(ctx, VoteRequest{Username: "carol", OptionID: first.ID, Approve: approve(false)})
					So(errors.Is(err, ErrOptionResolved), ShouldBeTrue)
				})
			})
		})
	})
}

func TestServiceResolvedOptionStaysResolved(t *testing.T) {
	Convey("Given an option whose quorum agreed", t, func() {
		ctx := context.Background()
		noon := catalog.StartOfDay(time.Now(), time.UTC).Add(12 * time.Hour)
		storeClock, svcClock := &testClock{now: noon}, &testClock{now: noon}
		svc, store := newClockedService(storeClock, svcClock)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, opts := svc.Options()
		first := opts[0].ID
		So(svc.CastVote(ctx, VoteRequest{Username: "alice", OptionID: first, Approve: approve(true)}), ShouldBeNil)
		storeClock.Set(noon.Add(10 * time.Millisecond))
		So(svc.CastVote(ctx, VoteRequest{Username: "bob", OptionID: first, Approve: approve(true)}), ShouldBeNil)
		end := noon.Add(10*time.Millisecond + testGrace)

		Convey("When a quorum member changes their vote just after the deadline", func() {
			svcClock.Set(end)
			storeClock.Set(end.Add(time.Millisecond))
			err := svc.CastVote(ctx, VoteRequest{Username: "alice", OptionID: first, Approve: approve(false)})

			Convey("Then the vote is refused and the outcome holds", func() {
				So(errors.Is(err, ErrOptionResolved), ShouldBeTrue)
				snap, err := store.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(snap.Votes, ShouldHaveLength, 2)
				So(snap.Votes[0].Approve, ShouldBeTrue)

				svcClock.Set(end.Add(time.Hour))
				v := svc.View(model.Identity{})
				So(v.Options[0].Status, ShouldEqual, model.StatusResolvedYes)
				So(v.Options[0].Tally, ShouldResemble, model.Tally{Yes: 2})
			})
		})

		Convey("When a vote is stamped exactly at the deadline", func() {
			storeClock.Set(end)
			err := svc.CastVote(ctx, VoteRequest{Username: "carol", OptionID: first, Approve: approve(false)})

			Convey("Then it is accepted and extends the window", func() {
				So(err, ShouldBeNil)
				svcClock.Set(end.Add(time.Millisecond))
				v := svc.View(model.Identity{})
				So(v.Options[0].Status, ShouldEqual, model.StatusPendingGrace)
				So(v.Options[0].GracePeriodEnd.Equal(end.Add(testGrace)), ShouldBeTrue)
			})
		})
	})
}

func TestServiceLateVoteExtendsGrace(t *testing.T) {
	Convey("Given a started service and a watcher", t, func() {
		ctx := context.Background()
		svc, _ := newTestService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		feed := newViewFeed()
		stop := svc.Watch(func() model.Identity { return model.Identity{} }, feed.push)
		defer stop()

		_, opts := svc.Options()
		first := opts[0].ID
		pending := func(v model.View) bool {
			return v.Current != nil && v.Current.Option.ID == first && v.Current.Status == model.StatusPendingGrace
		}

		Convey("When a third vote lands inside the grace period", func() {
			So(svc.CastVote(ctx, VoteRequest{Username: "alice", OptionID: first, Approve: approve(true)}), ShouldBeNil)
			So(svc.CastVote(ctx, VoteRequest{Username: "bob", OptionID: first, Approve: approve(true)}), ShouldBeNil)
			v, ok := feed.await(pending)
			So(ok, ShouldBeTrue)
			original := *v.GracePeriodEnd

			time.Sleep(testGrace / 3)
			So(svc.CastVote(ctx, VoteRequest{Username: "carol", OptionID: first, Approve: approve(false)}), ShouldBeNil)

			Convey("Then the deadline moves and the timer follows it", func() {
				v, ok := feed.await(func(v model.View) bool {
					return pending(v) && v.GracePeriodEnd.After(original)
				})
				So(ok, ShouldBeTrue)
				So(len(v.VotesForCurrent), ShouldEqual, 3)

				resolved, ok := feed.await(func(v model.View) bool {
					return len(v.Options) > 0 && v.Options[0].Status.Final()
				})
				So(ok, ShouldBeTrue)
				So(resolved.Options[0].Status, ShouldEqual, model.StatusResolvedYes)
				So(resolved.Options[0].Tally, ShouldResemble, model.Tally{Yes: 2, No: 1})
				So(resolved.Options[0].ResolvedAt.Equal(*v.GracePeriodEnd), ShouldBeTrue)
			})
		})
	})
}

func TestServiceDayRollover(t *testing.T) {
	Convey("Given a service started just before midnight", t, func() {
		ctx := context.Background()
		midnight := catalog.StartOfDay(time.Now(), time.UTC).AddDate(0, 0, 1)
		midnight = catalog.StartOfDay(midnight, time.UTC)
		clock := &testClock{now: midnight.Add(-400 * time.Millisecond)}
		svc, _ := newClockedService(clock, clock)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		feed := newViewFeed()
		stop := svc.Watch(func() model.Identity { return model.Identity{} }, feed.push)
		defer stop()

		Convey("When midnight passes without any write", func() {
			armed := false
			for i := 0; i < 100 && !armed; i++ {
				d, ok := svc.GetStats()["next_rollover"].(time.Time)
				armed = ok && d.Equal(midnight)
				if !armed {
					time.Sleep(2 * time.Millisecond)
				}
			}
			So(armed, ShouldBeTrue)
			clock.Set(midnight.Add(time.Second))

			Convey("Then watchers get the new day's view", func() {
				v, ok := feed.await(func(v model.View) bool { return v.StartOfDay.Equal(midnight) })
				So(ok, ShouldBeTrue)
				_, order := svc.Options()
				So(v.Current.Option, ShouldResemble, order[0])
			})
		})
	})
}

func TestServiceCheckInNotification(t *testing.T) {
	Convey("Given a service whose clock differs from the store's", t, func() {
		ctx := context.Background()
		noon := catalog.StartOfDay(time.Now(), time.UTC).Add(12 * time.Hour)
		notifier := &recordingNotifier{}
		svc, store := newClockedService(&testClock{now: noon}, &testClock{now: noon.Add(time.Hour)}, WithNotifier(notifier))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When someone checks in", func() {
			So(svc.CheckIn(ctx, "alice", "10.0.0.1"), ShouldBeNil)

			Convey("Then the notification carries the stored check-in", func() {
				snap, err := store.Snapshot(ctx)
				So(err, ShouldBeNil)
				notifier.mu.Lock()
				defer notifier.mu.Unlock()
				So(notifier.seen, ShouldHaveLength, 1)
				So(notifier.seen[0], ShouldResemble, snap.CheckedIn[0])
				So(notifier.seen[0].CheckedInAt.Equal(noon), ShouldBeTrue)
			})
		})
	})
}

func TestSession(t *testing.T) {
	Convey("Given a session at a fixed origin", t, func() {
		ctx := context.Background()
		svc, _ := newTestService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		sess := NewSession(svc, "10.0.0.7")

		Convey("When it votes before anyone knows who it is", func() {
			err := sess.Vote(ctx, true)

			Convey("Then it is refused", func() {
				So(errors.Is(err, ErrUnknownParticipant), ShouldBeTrue)
			})
		})

		Convey("When it checks in", func() {
			So(sess.CheckIn(ctx, "dave"), ShouldBeNil)

			Convey("Then its identity is fixed", func() {
				So(sess.SetUsername("dave"), ShouldBeNil)
				So(errors.Is(sess.SetUsername("eve"), ErrIdentityLocked), ShouldBeTrue)
				So(sess.Identity().Username, ShouldEqual, "dave")
			})

			Convey("Then it can vote on the current option", func() {
				So(sess.Vote(ctx, false), ShouldBeNil)
				v := sess.View()
				So(v.Me, ShouldNotBeNil)
				So(v.Me.Username, ShouldEqual, "dave")
				So(len(v.VotesForCurrent), ShouldEqual, 1)
				So(v.VotesForCurrent[0].Approve, ShouldBeFalse)
			})

			Convey("Then it can check out", func() {
				So(sess.CheckOut(ctx), ShouldBeNil)
				So(sess.View().CheckedIn, ShouldBeEmpty)
			})
		})

		Convey("When a watcher subscribes", func() {
			feed := newViewFeed()
			stop := sess.Watch(feed.push)
			defer stop()
			So(sess.CheckIn(ctx, "dave"), ShouldBeNil)

			Convey("Then it sees itself", func() {
				_, ok := feed.await(func(v model.View) bool { return v.Me != nil && v.Me.Username == "dave" })
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the name is already taken", func() {
			So(svc.CheckIn(ctx, "erin", "10.0.0.8"), ShouldBeNil)
			err := sess.CheckIn(ctx, "erin")

			Convey("Then the check-in is refused and another name may be tried", func() {
				So(errors.Is(err, ErrAlreadyCheckedIn), ShouldBeTrue)
				So(sess.Identity().Username, ShouldBeEmpty)
				So(sess.CheckIn(ctx, "frank"), ShouldBeNil)
				So(sess.Identity().Username, ShouldEqual, "frank")
			})
		})

		Convey("When an empty username is set", func() {
			Convey("Then it is rejected", func() {
				So(errors.Is(sess.SetUsername(""), ErrNoIdentity), ShouldBeTrue)
			})
		})
	})
}

func TestLocalAddress(t *testing.T) {
	Convey("Given the host interfaces", t, func() {
		Convey("Then an IPv4 address is returned", func() {
			So(LocalAddress(), ShouldNotBeEmpty)
		})
	})
}
