// Package aggregate implements C7: merging one CompetitionNodeResult per
// alive non-failed node into a single CompetitionResult with summary
// statistics and percentile roll-ups (spec §4.7). The percentile math is
// grounded on the teacher's benchmark summary computation in
// cmd/corvo/cmd_bench.go, generalized from one flat sample array to
// per-competition, per-node roll-ups.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/user/benchctl/internal/benchmodel"
)

// Merge combines the per-node results for one competition into a
// CompetitionResult. percentiles defaults to benchmodel.DefaultPercentiles
// when empty.
func Merge(competition string, nodeResults []benchmodel.CompetitionNodeResult, percentiles []float64) benchmodel.CompetitionResult {
	if len(percentiles) == 0 {
		percentiles = benchmodel.DefaultPercentiles
	}

	out := benchmodel.CompetitionResult{
		Competition: competition,
		NodeResults: nodeResults,
	}
	if len(nodeResults) == 0 {
		out.Summary.PercentileValues = map[string]float64{}
		return out
	}

	var (
		totalTime   float64
		warmupTime  float64
		sumMeans    float64
		minVal      = nodeResults[0].TotalTimeMs
		maxVal      = nodeResults[0].TotalTimeMs
		totalHits   int64
		totalQueries int64
		allSamples  []float64
	)

	for _, nr := range nodeResults {
		totalTime += nr.TotalTimeMs
		warmupTime += nr.WarmupTimeMs
		if nr.TotalTimeMs < minVal {
			minVal = nr.TotalTimeMs
		}
		if nr.TotalTimeMs > maxVal {
			maxVal = nr.TotalTimeMs
		}

		var nodeSum float64
		for _, it := range nr.Iterations {
			if it.Warmup {
				continue
			}
			nodeSum += it.DurationMs
			totalHits += it.Hits
			totalQueries++
			allSamples = append(allSamples, it.DurationMs)
		}
		if n := countNonWarmup(nr.Iterations); n > 0 {
			sumMeans += nodeSum / float64(n)
		}
	}

	out.Summary = benchmodel.Summary{
		MinMs:                    minVal,
		MeanMs:                   sumMeans / float64(len(nodeResults)),
		MaxMs:                    maxVal,
		TotalTimeMs:              totalTime,
		WarmupTimeMs:             warmupTime,
		TotalQueries:             totalQueries,
		TotalCompletedIterations: int64(len(allSamples)),
		PercentileValues:         percentileTable(allSamples, percentiles),
	}
	if totalTime > 0 {
		out.Summary.QPS = float64(totalQueries) / (totalTime / 1000.0)
	}
	if totalHits > 0 {
		out.Summary.MsPerHit = totalTime / float64(totalHits)
	}
	return out
}

func countNonWarmup(its []benchmodel.IterationResult) int {
	n := 0
	for _, it := range its {
		if !it.Warmup {
			n++
		}
	}
	return n
}

// percentileTable computes, for each requested percentile, the value at
// that percentile over samples using linear interpolation between
// adjacent order statistics. Monotone in p by construction since sorted
// input plus linear interpolation never decreases with p.
func percentileTable(samples []float64, percentiles []float64) map[string]float64 {
	out := make(map[string]float64, len(percentiles))
	if len(samples) == 0 {
		for _, p := range percentiles {
			out[key(p)] = 0
		}
		return out
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	for _, p := range percentiles {
		out[key(p)] = quantile(sorted, p)
	}
	return out
}

func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func key(p float64) string {
	return fmt.Sprintf("p%g", p)
}

// MergeWithErrors is used by the coordinator's onFinished path: it
// collects one FetchResults error per node without losing any single
// node's failure detail, via go-multierror, then still aggregates
// whatever nodes did respond.
func MergeWithErrors(competition string, nodeResults []benchmodel.CompetitionNodeResult, fetchErrs []error, percentiles []float64) (benchmodel.CompetitionResult, error) {
	result := Merge(competition, nodeResults, percentiles)
	if len(fetchErrs) == 0 {
		return result, nil
	}
	var merr *multierror.Error
	for _, e := range fetchErrs {
		if e != nil {
			merr = multierror.Append(merr, e)
		}
	}
	if merr == nil {
		return result, nil
	}
	return result, merr.ErrorOrNil()
}
