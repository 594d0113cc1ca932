package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func value(c prometheus.Metric) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return -1
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	return -1
}

func TestManagerCreation(t *testing.T) {
	Convey("Given a private registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When a manager is created with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("vote"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then its collectors are registered under the namespace", func() {
				m.checkIns.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_vote_checkins_total"], ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When votes are recorded", func() {
			before := value(globalManager.votesCast.WithLabelValues("yes"))
			RecordVoteCast(true)
			RecordVoteCast(false)

			Convey("Then the yes counter moves by one", func() {
				So(value(globalManager.votesCast.WithLabelValues("yes")), ShouldEqual, before+1)
			})
		})

		Convey("When the grace timer toggles", func() {
			UpdateGraceTimerArmed(true)
			armed := value(globalManager.graceTimerArmed)
			UpdateGraceTimerArmed(false)

			Convey("Then the gauge follows it", func() {
				So(armed, ShouldEqual, 1)
				So(value(globalManager.graceTimerArmed), ShouldEqual, 0)
			})
		})

		Convey("When the remaining recorders run", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordVoteRejected("option_resolved")
					RecordVoteDuplicate()
					RecordCheckIn()
					RecordCheckOut()
					RecordOptionResolved("resolved-yes")
					RecordResolution(0.4)
					RecordGraceTimerFired()
					UpdateCheckedIn(3)
					UpdateVotesToday(7)
					UpdateViewWatchers(2)
					RecordSnapshotReceived("memory")
					RecordStoreLatency("sqlite", "put_vote", 1.2)
					RecordStoreError("sqlite", "snapshot")
					RecordNotification("redis", "ok")
					UpdateQueueSize(1)
					UpdateQueueCapacity(64)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueDropped()
					RecordWorkerProcessingLatency(0.3)
					RecordWorkerError()
					RecordHTTPRequest("/view", "GET", "200")
					RecordHTTPRequestDuration("/view", "GET", "200", 2)
					RecordErrorByComponent("app", "store")
				}, ShouldNotPanic)
			})
		})

		Convey("Then the exported registry is the custom one", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
