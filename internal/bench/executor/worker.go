package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/benchmodel"
)

var workerTracer = otel.Tracer("github.com/user/benchctl/internal/bench/executor")

// runWorker drives every competition in def in order, then writes the
// terminal local state for this benchmark. It is the one goroutine per
// running benchmark per node described in spec §5.
func (s *Service) runWorker(ctx context.Context, benchmarkID string, bs *benchState, def benchmodel.BenchmarkDefinition) {
	var allErrors []string

	for _, comp := range def.Competitions {
		if bs.abort.Load() {
			break
		}
		result, fatal, err := s.runCompetition(ctx, bs, comp, def.Settings)
		bs.mu.Lock()
		bs.results = append(bs.results, result)
		bs.mu.Unlock()
		if err != nil {
			allErrors = append(allErrors, err.Error())
		}
		if fatal {
			s.transitionLocal(ctx, benchmarkID, benchmodel.NodeFailed, allErrors)
			return
		}
	}

	final := benchmodel.NodeCompleted
	if bs.abort.Load() {
		final = benchmodel.NodeAborted
	}
	s.transitionLocal(ctx, benchmarkID, final, allErrors)
}

// runCompetition runs one Competition's iterations (plus an optional
// untimed warmup iteration), blocking on the pause gate before each
// iteration and polling the abort flag between iterations, per spec
// §4.3 and §5. Each iteration dispatches comp.Requests, repeated
// multiplier times, up to concurrency in flight at once, and contributes
// exactly one IterationResult: the iteration's own wall-clock duration
// and the sum of hits across every query it issued.
func (s *Service) runCompetition(ctx context.Context, bs *benchState, comp benchmodel.Competition, settings benchmodel.Settings) (benchmodel.CompetitionNodeResult, bool, error) {
	result := benchmodel.CompetitionNodeResult{
		NodeID:      s.nodeID,
		Competition: comp.Name,
	}

	iterations := comp.Iterations
	if iterations <= 0 {
		iterations = settings.Iterations
	}
	concurrency := comp.Concurrency
	if concurrency <= 0 {
		concurrency = settings.Concurrency
	}
	multiplier := comp.Multiplier
	if multiplier <= 0 {
		multiplier = settings.Multiplier
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	warmup := comp.Warmup || settings.Warmup
	allowClear := comp.AllowCacheClearing || settings.AllowCacheClearing

	runIteration := func(isWarmup bool) (stop bool, fatal bool, err error) {
		if err := bs.pause.Wait(ctx); err != nil {
			return false, false, err
		}
		if bs.abort.Load() {
			return true, false, nil
		}

		start := time.Now()
		hits, fatalErr, nonFatal := s.dispatchIteration(ctx, comp, concurrency, multiplier)
		elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

		result.Iterations = append(result.Iterations, benchmodel.IterationResult{
			DurationMs: elapsedMs,
			Hits:       hits,
			Warmup:     isWarmup,
		})
		if isWarmup {
			result.WarmupTimeMs += elapsedMs
		} else {
			result.TotalTimeMs += elapsedMs
		}
		if nonFatal != "" {
			result.Errors = append(result.Errors, nonFatal)
		}
		if fatalErr != nil {
			return true, true, fatalErr
		}

		if allowClear {
			if err := s.search.ClearCache(ctx); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
		}
		return false, false, nil
	}

	if warmup {
		if _, fatal, err := runIteration(true); fatal {
			return result, true, err
		}
	}

	for i := 0; i < iterations; i++ {
		stop, fatal, err := runIteration(false)
		if fatal {
			return result, true, err
		}
		if stop {
			break
		}
	}

	return result, false, nil
}

// dispatchIteration runs comp.Requests, repeated multiplier times, up to
// concurrency in flight at once, and returns the total hit count across
// every query in the iteration. A fatal error aborts the iteration
// immediately; non-fatal errors are joined into a single message so the
// caller can attach them to the iteration without losing any individual
// query's failure.
func (s *Service) dispatchIteration(ctx context.Context, comp benchmodel.Competition, concurrency, multiplier int) (int64, error, string) {
	ctx, span := workerTracer.Start(ctx, "executor.dispatchIteration", trace.WithAttributes(
		attribute.String("benchmark.competition", comp.Name),
		attribute.Int("benchmark.concurrency", concurrency),
		attribute.Int("benchmark.multiplier", multiplier),
	))
	defer span.End()

	type job struct {
		req benchmodel.SearchRequest
	}
	jobs := make(chan job)

	var (
		mu        sync.Mutex
		totalHits int64
		nonFatal  []error
		fatal     error
	)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := s.search.Run(ctx, j.req)
				mu.Lock()
				if err != nil {
					var fe *searchexec.FatalError
					if errors.As(err, &fe) {
						if fatal == nil {
							fatal = err
						}
					} else {
						nonFatal = append(nonFatal, err)
					}
				} else {
					totalHits += res.Hits
				}
				mu.Unlock()
			}
		}()
	}

	for m := 0; m < multiplier; m++ {
		for _, req := range comp.Requests {
			jobs <- job{req: req}
		}
	}
	close(jobs)
	wg.Wait()

	var nonFatalMsg string
	if len(nonFatal) > 0 {
		nonFatalMsg = errors.Join(nonFatal...).Error()
	}
	return totalHits, fatal, nonFatalMsg
}
