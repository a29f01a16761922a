package benchmodel

import "time"

// IterationResult holds the raw per-iteration sample needed to compute
// arbitrary percentiles later in the Aggregator.
type IterationResult struct {
	DurationMs   float64 `json:"duration_ms"`
	Hits         int64   `json:"hits"`
	Warmup       bool    `json:"warmup,omitempty"`
}

// CompetitionNodeResult is what one node reports for one competition. It
// is cached locally by the executor as the competition finishes and
// handed to the coordinator on FetchResults.
type CompetitionNodeResult struct {
	NodeID       string             `json:"node_id"`
	Competition  string             `json:"competition"`
	Iterations   []IterationResult  `json:"iterations"`
	Errors       []string           `json:"errors,omitempty"`
	TotalTimeMs  float64            `json:"total_time_ms"`
	WarmupTimeMs float64            `json:"warmup_time_ms,omitempty"`
}

// PerNodeResults is the full set of competition results a node reports
// for one benchmark, returned by Transport.FetchResults.
type PerNodeResults struct {
	NodeID  string                   `json:"node_id"`
	Results []CompetitionNodeResult  `json:"results"`
}

// Summary is the aggregated statistics block attached to every
// CompetitionResult.
type Summary struct {
	MinMs                 float64            `json:"min_ms"`
	MeanMs                float64            `json:"mean_ms"`
	MaxMs                 float64            `json:"max_ms"`
	TotalTimeMs           float64            `json:"total_time_ms"`
	WarmupTimeMs          float64            `json:"warmup_time_ms,omitempty"`
	QPS                   float64            `json:"qps"`
	MsPerHit              float64            `json:"ms_per_hit"`
	TotalQueries           int64              `json:"total_queries"`
	TotalCompletedIterations int64            `json:"total_completed_iterations"`
	PercentileValues       map[string]float64 `json:"percentile_values"`
}

// CompetitionResult is the merged, cross-node outcome for one
// competition, produced by the Aggregator.
type CompetitionResult struct {
	Competition string                   `json:"competition"`
	NodeResults []CompetitionNodeResult   `json:"node_results"`
	Summary     Summary                  `json:"summary"`
}

// Response is the single merged result delivered back to the original
// client, regardless of which terminal path produced it.
type Response struct {
	BenchmarkID        string                        `json:"benchmark_id"`
	State              GlobalState                   `json:"state"`
	CompetitionResults map[string]CompetitionResult   `json:"competition_results,omitempty"`
	Errors             []string                       `json:"errors,omitempty"`
	StartedAt          time.Time                      `json:"started_at"`
	FinishedAt         time.Time                      `json:"finished_at,omitempty"`
}

// Status is the shape returned by listBenchmarks.
type Status struct {
	BenchmarkID  string               `json:"benchmark_id"`
	State        GlobalState          `json:"state"`
	NodeStateMap map[string]NodeState `json:"node_state_map"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
