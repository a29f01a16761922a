package aggregate_test

import (
	"fmt"
	"testing"

	"github.com/user/benchctl/internal/bench/aggregate"
	"github.com/user/benchctl/internal/benchmodel"
)

func TestMergeEmptyNodeResults(t *testing.T) {
	got := aggregate.Merge("c1", nil, nil)
	if got.Competition != "c1" {
		t.Fatalf("Competition = %q", got.Competition)
	}
	if len(got.Summary.PercentileValues) != 0 {
		t.Fatalf("expected empty percentile table, got %v", got.Summary.PercentileValues)
	}
}

func TestMergeComputesQPSAndPercentiles(t *testing.T) {
	nodeResults := []benchmodel.CompetitionNodeResult{
		{
			NodeID:      "n1",
			Competition: "c1",
			TotalTimeMs: 1000,
			Iterations: []benchmodel.IterationResult{
				{DurationMs: 10, Hits: 5},
				{DurationMs: 20, Hits: 5},
				{DurationMs: 100, Hits: 5, Warmup: true},
			},
		},
		{
			NodeID:      "n2",
			Competition: "c1",
			TotalTimeMs: 1000,
			Iterations: []benchmodel.IterationResult{
				{DurationMs: 30, Hits: 5},
				{DurationMs: 40, Hits: 5},
			},
		},
	}

	got := aggregate.Merge("c1", nodeResults, []float64{50})

	if got.Summary.TotalQueries != 4 {
		t.Fatalf("TotalQueries = %d, want 4 (warmup samples excluded)", got.Summary.TotalQueries)
	}
	if got.Summary.TotalCompletedIterations != 4 {
		t.Fatalf("TotalCompletedIterations = %d, want 4", got.Summary.TotalCompletedIterations)
	}
	if got.Summary.TotalTimeMs != 2000 {
		t.Fatalf("TotalTimeMs = %v, want 2000", got.Summary.TotalTimeMs)
	}
	if got.Summary.QPS <= 0 {
		t.Fatalf("QPS should be positive, got %v", got.Summary.QPS)
	}
	if _, ok := got.Summary.PercentileValues["p50"]; !ok {
		t.Fatalf("missing p50 in %v", got.Summary.PercentileValues)
	}
}

func TestMergeDefaultsPercentiles(t *testing.T) {
	nodeResults := []benchmodel.CompetitionNodeResult{
		{NodeID: "n1", Competition: "c1", Iterations: []benchmodel.IterationResult{{DurationMs: 5}}},
	}
	got := aggregate.Merge("c1", nodeResults, nil)
	for _, p := range benchmodel.DefaultPercentiles {
		key := fmt.Sprintf("p%g", p)
		if _, ok := got.Summary.PercentileValues[key]; !ok {
			t.Fatalf("expected default percentile %v present, got %v", p, got.Summary.PercentileValues)
		}
	}
}
