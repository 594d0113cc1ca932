package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/lunchvote/internal/app"
	"github.com/okian/lunchvote/internal/config"
	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestSummarize(t *testing.T) {
	Convey("Given a view with two checked-in participants", t, func() {
		end := time.Date(2024, 6, 3, 12, 1, 0, 0, time.UTC)
		view := model.View{
			Connected: true,
			Current: &model.OptionStatus{
				Option: model.Option{ID: 1, Name: "Noodles", URL: "https://noodles.example", PriceTier: 3},
				Status: model.StatusPendingGrace,
			},
			CheckedIn:       []model.Participant{{Username: "alice"}, {Username: "bob"}, {Username: "carol"}},
			VotesForCurrent: []model.Vote{{Username: "alice", Approve: true}, {Username: "carol", Approve: false}},
			GracePeriodEnd:  &end,
			Me:              &model.Participant{Username: "bob"},
		}

		Convey("When summarizing it", func() {
			s := summarize(view)

			Convey("Then every participant has a vote state", func() {
				So(s.Option, ShouldEqual, "Noodles")
				So(s.Price, ShouldEqual, "$$$")
				So(s.Me, ShouldEqual, "bob")
				So(s.voters(), ShouldEqual, "alice=yes bob=waiting carol=no")
			})

			Convey("And an identical view compares equal", func() {
				again := end
				view.GracePeriodEnd = &again
				So(s.equal(summarize(view)), ShouldBeTrue)
			})

			Convey("And a new vote does not", func() {
				view.VotesForCurrent = append(view.VotesForCurrent, model.Vote{Username: "bob", Approve: true})
				So(s.equal(summarize(view)), ShouldBeFalse)
			})
		})

		Convey("When there is no current option", func() {
			view.Current = nil
			s := summarize(view)

			Convey("Then only the connection state is kept", func() {
				So(s.Option, ShouldBeEmpty)
				So(s.Voters, ShouldBeEmpty)
			})
		})
	})
}

func TestRenderer(t *testing.T) {
	Convey("Given a renderer writing JSON logs", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithFormat(logger.FormatJSON), logger.WithWriter(&buf)), ShouldBeNil)
		defer func() { _ = logger.Init() }()

		r := newRenderer(logger.Named("watch"))
		now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return now }
		end := now.Add(45 * time.Second)
		view := model.View{
			Connected:      true,
			Current:        &model.OptionStatus{Option: model.Option{Name: "Tacos"}, Status: model.StatusPendingGrace},
			GracePeriodEnd: &end,
		}

		Convey("When the same view is shown twice", func() {
			r.Show(view)
			r.Show(view)

			Convey("Then it is logged once with the countdown", func() {
				So(strings.Count(buf.String(), "Tacos"), ShouldEqual, 1)
				So(buf.String(), ShouldContainSubstring, `"remaining":"00:45"`)
			})
		})

		Convey("When the clock advances", func() {
			r.Show(view)
			buf.Reset()
			now = now.Add(time.Second)
			r.Tick()
			r.Tick()

			Convey("Then the countdown is logged once per change", func() {
				So(strings.Count(buf.String(), "time remaining"), ShouldEqual, 1)
				So(buf.String(), ShouldContainSubstring, `"remaining":"00:44"`)
			})
		})

		Convey("When the view is disconnected", func() {
			r.Show(model.View{})

			Convey("Then it says it is waiting", func() {
				So(buf.String(), ShouldContainSubstring, "waiting for shared state")
			})
		})
	})
}

func TestConsole(t *testing.T) {
	Convey("Given a console over a started service", t, func() {
		ctx := context.Background()
		svc, err := service.FromConfig(ctx, config.New(ctx))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		quit := false
		c := &console{
			sess: service.NewSession(svc, "10.0.0.9"),
			log:  logger.Named("watch"),
			quit: func() { quit = true },
		}

		Convey("When checking in and voting yes", func() {
			So(c.handle(ctx, "checkin alice"), ShouldBeTrue)
			So(c.handle(ctx, "y"), ShouldBeTrue)

			Convey("Then the vote lands on the current option", func() {
				v := c.sess.View()
				So(v.Me, ShouldNotBeNil)
				So(v.VotesForCurrent, ShouldHaveLength, 1)
				So(v.VotesForCurrent[0].Approve, ShouldBeTrue)
			})

			Convey("And checking out clears the check-in", func() {
				So(c.handle(ctx, "checkout"), ShouldBeTrue)
				So(c.sess.View().CheckedIn, ShouldBeEmpty)
			})
		})

		Convey("When reading until quit", func() {
			c.read(ctx, strings.NewReader("checkin bob\nquit\ny\n"))

			Convey("Then later lines are ignored and the session is released", func() {
				So(quit, ShouldBeTrue)
				So(c.sess.View().VotesForCurrent, ShouldBeEmpty)
				So(c.checkedIn, ShouldBeTrue)
			})
		})
	})
}
