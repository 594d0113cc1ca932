package model

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStatus(t *testing.T) {
	Convey("Given the four statuses", t, func() {
		Convey("Then only resolved ones are final", func() {
			So(StatusUndecided.Final(), ShouldBeFalse)
			So(StatusPendingGrace.Final(), ShouldBeFalse)
			So(StatusResolvedYes.Final(), ShouldBeTrue)
			So(StatusResolvedNo.Final(), ShouldBeTrue)
		})

		Convey("Then open is the complement of final", func() {
			for _, s := range []Status{StatusUndecided, StatusPendingGrace, StatusResolvedYes, StatusResolvedNo} {
				So(s.Open(), ShouldEqual, !s.Final())
			}
		})

		Convey("Then chosen is tri-state", func() {
			So(StatusUndecided.Chosen(), ShouldBeNil)
			So(StatusPendingGrace.Chosen(), ShouldBeNil)
			So(*StatusResolvedYes.Chosen(), ShouldBeTrue)
			So(*StatusResolvedNo.Chosen(), ShouldBeFalse)
		})
	})
}

func TestSnapshot(t *testing.T) {
	Convey("Given snapshots with various quorum sizes", t, func() {
		Convey("Then a missing or invalid quorum falls back to the default", func() {
			So(Snapshot{}.EffectiveQuorum(), ShouldEqual, DefaultQuorumSize)
			So(Snapshot{QuorumSize: -3}.EffectiveQuorum(), ShouldEqual, DefaultQuorumSize)
			So(Snapshot{QuorumSize: 5}.EffectiveQuorum(), ShouldEqual, 5)
		})
	})

	Convey("Given two votes by the same user on one option", t, func() {
		a := Vote{Username: "alice", OptionID: 1, Approve: true}
		b := Vote{Username: "alice", OptionID: 1, Approve: false}

		Convey("Then they share a key", func() {
			So(a.Key(), ShouldResemble, b.Key())
			So(a.Key(), ShouldNotResemble, Vote{Username: "alice", OptionID: 2}.Key())
		})
	})
}
