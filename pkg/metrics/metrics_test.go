package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it uses the service namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "geofeat")
				So(manager.subsystem, ShouldEqual, "featurizer")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.noCoverage.Inc()

			Convey("Then metric names and labels follow the options", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_no_coverage_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When empty options are passed", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "geofeat")
				So(manager.histogramBuckets, ShouldResemble, defaultLatencyBuckets)
				So(manager.customLabels, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording featurization metrics", func() {
			before := testutil.ToFloat64(globalManager.pointsFeaturized.WithLabelValues("batch"))
			RecordPointFeaturized("batch")
			RecordPointFeaturized("batch")

			Convey("Then the counter advances", func() {
				So(testutil.ToFloat64(globalManager.pointsFeaturized.WithLabelValues("batch")), ShouldEqual, before+2)
			})
		})

		Convey("When recording zero-filled rows", func() {
			before := testutil.ToFloat64(globalManager.zeroFilled.WithLabelValues("three_band"))
			RecordZeroFilled("three_band")

			Convey("Then the reason is counted", func() {
				So(testutil.ToFloat64(globalManager.zeroFilled.WithLabelValues("three_band")), ShouldEqual, before+1)
			})
		})

		Convey("When updating queue gauges", func() {
			UpdateQueueSize(12)
			UpdateQueueCapacity(100)
			UpdateQueueUtilization(0.12)

			Convey("Then gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 12)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 100)
				So(testutil.ToFloat64(globalManager.queueUtilization), ShouldEqual, 0.12)
			})
		})

		Convey("When recording everything else", func() {
			So(func() {
				RecordNoCoverage()
				RecordTileReadError()
				RecordResolveLatency(1.5)
				RecordExtractLatency(20)
				RecordRCFLatency(3)
				RecordBatchSize(250)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(8)
				UpdateWorkerBusy(3)
				RecordWorkerProcessingLatency(40)
				RecordWorkerError()
				RecordHTTPRequest("/featurizeNAIPBatched", "POST", "200")
				RecordHTTPRequestDuration("/featurizeNAIPBatched", "POST", "200", 120)
				RecordRasterCacheHit("memory")
				RecordRasterCacheMiss("redis")
				RecordRasterBytesFetched(65536)
				RecordRasterFetchRetry()
				RecordErrorByComponent("patch", "tile_read")
				UpdateSystemMemoryUsage(1024 * 1024 * 100)
				UpdateSystemGoroutineCount(50)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("When gathering the custom registry", func() {
			RecordNoCoverage()
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			Convey("Then only service metrics are exposed", func() {
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "geofeat_featurizer_"), ShouldBeTrue)
				}
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordPointFeaturized("single")
					UpdateQueueSize(j)
					RecordExtractLatency(float64(j))
					RecordHTTPRequest("/featurizeSingle", "POST", "200")
				}
			}()
		}
		wg.Wait()

		Convey("Then nothing panics and counts are consistent", func() {
			So(testutil.ToFloat64(globalManager.pointsFeaturized.WithLabelValues("single")), ShouldBeGreaterThanOrEqualTo, 1000)
		})
	})
}
