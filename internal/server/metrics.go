package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPrefix = "benchctl_"

// benchMetrics holds the Prometheus collectors exposed at /metrics,
// grounded on the teacher's own metrics registration style
// (internal/server/handlers_metrics_prom.go) but wired through
// prometheus/client_golang's registry/collector types instead of
// hand-formatted text, since nothing here needs a bespoke exposition
// writer. It also implements coordinator.MetricsSink so the
// CoordinatorService can report directly into it.
type benchMetrics struct {
	registry *prometheus.Registry

	benchmarksStarted  prometheus.Counter
	benchmarksAborted  prometheus.Counter
	benchmarksActive   prometheus.Gauge
	benchmarkDuration  prometheus.Histogram
	aggregateQPS       prometheus.Gauge
}

func newBenchMetrics() *benchMetrics {
	m := &benchMetrics{
		registry: prometheus.NewRegistry(),
		benchmarksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "benchmarks_started_total",
			Help: "Benchmarks accepted via startBenchmark.",
		}),
		benchmarksAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "benchmarks_aborted_total",
			Help: "Benchmarks explicitly aborted via abortBenchmark.",
		}),
		benchmarksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "benchmarks_active",
			Help: "Benchmarks not yet in a terminal state.",
		}),
		benchmarkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "benchmark_duration_seconds",
			Help:    "Wall-clock time from startBenchmark to a terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
		aggregateQPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "aggregate_qps",
			Help: "Most recently observed cross-node aggregate queries-per-second, summed across a finished benchmark's competitions.",
		}),
	}
	m.registry.MustRegister(
		m.benchmarksStarted,
		m.benchmarksAborted,
		m.benchmarksActive,
		m.benchmarkDuration,
		m.aggregateQPS,
	)
	return m
}

func (m *benchMetrics) handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return h.ServeHTTP
}

// ObserveBenchmarkDuration implements coordinator.MetricsSink.
func (m *benchMetrics) ObserveBenchmarkDuration(seconds float64) {
	m.benchmarkDuration.Observe(seconds)
}

// ObserveAggregateQPS implements coordinator.MetricsSink.
func (m *benchMetrics) ObserveAggregateQPS(qps float64) {
	m.aggregateQPS.Set(qps)
}

// SetActiveCount implements coordinator.MetricsSink.
func (m *benchMetrics) SetActiveCount(n int) {
	m.benchmarksActive.Set(float64(n))
}
