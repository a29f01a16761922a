package searchexec

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/user/benchctl/internal/benchmodel"
)

// Fake is a deterministic SearchExecutor for tests: it returns a fixed
// latency/hit count per call and counts how many times each method ran.
type Fake struct {
	DurationMs float64
	Hits       int64
	FailAfter  int64 // 0 means never fail
	Fatal      bool  // when true, failures after FailAfter are wrapped as FatalError
	Delay      time.Duration // real wall-clock sleep per call, for tests that need to race a pause/abort against in-flight iterations

	calls      atomic.Int64
	clearCalls atomic.Int64
}

func (f *Fake) Run(ctx context.Context, req benchmodel.SearchRequest) (Result, error) {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	n := f.calls.Add(1)
	if f.FailAfter > 0 && n > f.FailAfter {
		if f.Fatal {
			return Result{}, &FatalError{Err: errSimulated}
		}
		return Result{}, errSimulated
	}
	return Result{DurationMs: f.DurationMs, Hits: f.Hits}, nil
}

func (f *Fake) ClearCache(ctx context.Context) error {
	f.clearCalls.Add(1)
	return nil
}

func (f *Fake) Calls() int64      { return f.calls.Load() }
func (f *Fake) ClearCalls() int64 { return f.clearCalls.Load() }

var errSimulated = fakeError("simulated search executor failure")

type fakeError string

func (e fakeError) Error() string { return string(e) }
