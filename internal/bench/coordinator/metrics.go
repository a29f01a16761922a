package coordinator

import "github.com/user/benchctl/internal/benchmodel"

// MetricsSink receives the observations the coordinator is positioned to
// make about its own benchmarks; Server wires a Prometheus-backed
// implementation in, but any Service works fully well without one set.
type MetricsSink interface {
	ObserveBenchmarkDuration(seconds float64)
	ObserveAggregateQPS(qps float64)
	SetActiveCount(n int)
}

type noopMetricsSink struct{}

func (noopMetricsSink) ObserveBenchmarkDuration(float64) {}
func (noopMetricsSink) ObserveAggregateQPS(float64)      {}
func (noopMetricsSink) SetActiveCount(int)               {}

// SetMetricsSink wires sink into the Service. Call before Start.
func (s *Service) SetMetricsSink(sink MetricsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = noopMetricsSink{}
	}
	s.metrics = sink
}

// observeTerminal reports one finished benchmark's duration and, when it
// produced any competition results, its aggregate QPS (summed across
// competitions, the same whole-run figure spec §3's per-competition
// Summary.QPS rolls up from).
func (s *Service) observeTerminal(resp benchmodel.Response) {
	s.metrics.ObserveBenchmarkDuration(resp.FinishedAt.Sub(resp.StartedAt).Seconds())
	var qps float64
	for _, cr := range resp.CompetitionResults {
		qps += cr.Summary.QPS
	}
	if qps > 0 {
		s.metrics.ObserveAggregateQPS(qps)
	}
}
