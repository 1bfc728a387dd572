package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created with the default refresh interval", func() {
				So(manager, ShouldNotBeNil)
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(3*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.sessionsStarted.Inc()

			Convey("Then the metric names carry the namespace and subsystem", func() {
				So(manager.RefreshInterval(), ShouldEqual, 3*time.Second)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_sessions_started_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording votes", func() {
			before := testutil.ToFloat64(globalManager.votesRecorded.WithLabelValues("deferred"))
			RecordVote("deferred")
			RecordVote("deferred")

			Convey("Then the counter grows by two", func() {
				after := testutil.ToFloat64(globalManager.votesRecorded.WithLabelValues("deferred"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When updating gauges", func() {
			UpdateActiveSessions(7)
			UpdateQueueSize(3)
			UpdateCatalogItems(14)

			Convey("Then the gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.sessionsActive), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.catalogItems), ShouldEqual, 14)
			})
		})

		Convey("When recording the remaining series", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordVoteDuplicate()
					RecordSessionStarted()
					RecordSessionFinished()
					RecordReconciliation("complete", 12)
					RecordReconciliation("partial", 30)
					RecordPendingFlushed(30)
					RecordDurableWrite("update_elo_parallel")
					RecordDurableWriteFailure("insert_vote")
					RecordStoreLatency("ranked_items", 2)
					RecordStoreRetry("ranked_items")
					UpdateQueueCapacity(1024)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueRejected("full")
					UpdateWorkerCount(4)
					RecordWorkerProcessingLatency(5)
					RecordWorkerError()
					RecordHTTPRequest("votes", "POST", "200")
					RecordHTTPRequestDuration("votes", "POST", "200", 4)
					RecordErrorByComponent("store", "unavailable")
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(12)
				}, ShouldNotPanic)
			})
		})

		Convey("When gathering the custom registry", func() {
			RecordSessionStarted()
			families, err := GetRegistry().Gather()

			Convey("Then only prefstudy metrics are exposed", func() {
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "prefstudy_"), ShouldBeTrue)
				}
			})
		})
	})
}
