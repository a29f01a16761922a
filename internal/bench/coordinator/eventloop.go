package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/benchctl/internal/bench/aggregate"
	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/benchmodel"
)

// onStateChange is the store.Subscribe callback: the single-threaded
// dispatch point that advances every active benchmark's global phase
// (spec §4.5). It is grounded on the teacher's cluster-state dispatch
// goroutine in internal/raft/cluster.go, which processes committed log
// entries one at a time on a single goroutine per subscriber.
func (s *Service) onStateChange(prev, curr statestore.Snapshot) {
	ctx := context.Background()
	for id, entry := range curr.Meta.Entries {
		s.handleEntry(ctx, id, entry)
	}
}

func (s *Service) handleEntry(ctx context.Context, id string, entry benchmodel.Entry) {
	s.mu.Lock()
	cs, ok := s.states[id]
	s.mu.Unlock()
	if !ok {
		// This master holds no InternalCoordinatorState for this entry: it
		// was created by a coordinator that has since failed over, or the
		// entry is a leftover this master never tracked. Either way, it is
		// orphaned from this process's point of view; delete it rather than
		// let it sit unreachable forever.
		s.logger.Warn("deleting orphaned benchmark entry", "benchmark_id", id)
		s.deleteEntry(ctx, id)
		return
	}

	if entry.State.Terminal() {
		s.handleTerminal(ctx, id, cs, entry)
		return
	}

	alive := s.liveness.AliveAmong(id, cs.assignedNodes)

	if len(alive) == 0 {
		if cs.complete.CompareAndSwap(false, true) {
			s.onFailed(ctx, id, cs, entry, []string{"all assigned nodes are dead"})
		}
		return
	}

	if allNodeStatesFailed(entry, alive) {
		if cs.complete.CompareAndSwap(false, true) {
			s.onFailed(ctx, id, cs, entry, nil)
		}
		return
	}

	switch entry.State {
	case benchmodel.StateInitializing:
		if allAliveInState(entry, alive, benchmodel.NodeReady) && cs.running.CompareAndSwap(false, true) {
			s.onReady(ctx, id, cs)
		}
	case benchmodel.StateRunning:
		if allAliveTerminalNode(entry, alive) && cs.running.CompareAndSwap(true, false) {
			s.onFinished(ctx, id, cs, entry)
		}
	case benchmodel.StateResuming:
		if allAliveInState(entry, alive, benchmodel.NodeRunning) && cs.paused.CompareAndSwap(true, false) {
			s.onResumed(ctx, id, cs)
		}
	case benchmodel.StatePaused:
		if allAliveInState(entry, alive, benchmodel.NodePaused) && cs.paused.CompareAndSwap(false, true) {
			s.onPaused(cs)
		}
	}
}

// handleTerminal handles entries already at COMPLETED/FAILED/ABORTED.
// COMPLETED is reached in two steps (onFinished writes it, then this
// branch finalizes on the next delivery); FAILED finalizes on first
// delivery, and ABORTED finalizes directly once every alive node echoes
// NodeAborted, since the source's description of the ABORTED branch
// already bundles "collect partial results" and "complete" into one action.
func (s *Service) handleTerminal(ctx context.Context, id string, cs *internalState, entry benchmodel.Entry) {
	switch entry.State {
	case benchmodel.StateCompleted:
		if cs.complete.CompareAndSwap(false, true) {
			s.onComplete(ctx, id, cs)
		}
	case benchmodel.StateFailed:
		if cs.complete.CompareAndSwap(false, true) {
			s.onFailed(ctx, id, cs, entry, entry.ErrorMessages)
		}
	case benchmodel.StateAborted:
		alive := s.liveness.AliveAmong(id, cs.assignedNodes)
		if allAliveInState(entry, alive, benchmodel.NodeAborted) && cs.complete.CompareAndSwap(false, true) {
			s.onAborted(ctx, id, cs, entry)
		}
	}
}

func allNodeStatesFailed(entry benchmodel.Entry, alive []string) bool {
	for _, n := range alive {
		if entry.NodeStateMap[n] != benchmodel.NodeFailed {
			return false
		}
	}
	return true
}

// allAliveInState reports whether every alive node not already marked
// FAILED has reached want. A FAILED node is skipped rather than treated
// as blocking the guard, per spec §3 invariant 6 ("dead nodes and nodes
// marked FAILED are ignored by quorum predicates"); otherwise one node
// failing during INITIALIZING/PAUSED/RESUMING would wedge the benchmark
// forever, since it can never reach want and it is also not every alive
// node (so allNodeStatesFailed never fires either).
func allAliveInState(entry benchmodel.Entry, alive []string, want benchmodel.NodeState) bool {
	for _, n := range alive {
		st := entry.NodeStateMap[n]
		if st == benchmodel.NodeFailed {
			continue
		}
		if st != want {
			return false
		}
	}
	return true
}

// allAliveTerminalNode reports whether every alive node has reached a
// terminal NodeState (COMPLETED or FAILED); ABORTED is handled on the
// ABORTED global-state branch instead.
func allAliveTerminalNode(entry benchmodel.Entry, alive []string) bool {
	for _, n := range alive {
		st := entry.NodeStateMap[n]
		if st != benchmodel.NodeCompleted && st != benchmodel.NodeFailed {
			return false
		}
	}
	return true
}

// onReady fires once when every alive assigned node has echoed READY.
// It flips global state to RUNNING so executors release their first
// worker goroutine.
func (s *Service) onReady(ctx context.Context, id string, cs *internalState) {
	_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		entry, ok := meta.Entries[id]
		if !ok {
			return meta, nil
		}
		entry = entry.Clone()
		entry.State = benchmodel.StateRunning
		entry.UpdatedAt = time.Now()
		meta.Entries[id] = entry
		return meta, nil
	})
	if err != nil {
		s.logger.Error("write running state failed", "benchmark_id", id, "error", err)
	}
}

// onFinished fires once when every alive node has reached a terminal
// NodeState while the entry is RUNNING. It collects each node's cached
// results, stamps the merged CompetitionResults onto the response, and
// writes global=COMPLETED so the next delivery finalizes via onComplete.
func (s *Service) onFinished(ctx context.Context, id string, cs *internalState, entry benchmodel.Entry) {
	compResults, errs := s.collectResults(ctx, id, cs, entry)
	cs.mu.Lock()
	cs.response.CompetitionResults = compResults
	cs.response.Errors = append(cs.response.Errors, errs...)
	cs.mu.Unlock()

	_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		e, ok := meta.Entries[id]
		if !ok {
			return meta, nil
		}
		e = e.Clone()
		e.State = benchmodel.StateCompleted
		for n, st := range e.NodeStateMap {
			if st != benchmodel.NodeFailed {
				e.NodeStateMap[n] = benchmodel.NodeCompleted
			}
		}
		e.UpdatedAt = time.Now()
		meta.Entries[id] = e
		return meta, nil
	})
	if err != nil {
		s.logger.Error("write completed state failed", "benchmark_id", id, "error", err)
	}
}

// onComplete finalizes a benchmark that reached global=COMPLETED: delete
// the entry and fulfill the original caller's waiter.
func (s *Service) onComplete(ctx context.Context, id string, cs *internalState) {
	cs.mu.Lock()
	cs.response.State = benchmodel.StateCompleted
	cs.response.FinishedAt = time.Now()
	resp := cs.response
	cs.mu.Unlock()

	s.deleteEntry(ctx, id)
	s.finishBenchmark(id)
	s.observeTerminal(resp)
	cs.listenerSlot.signalOnce(Outcome{Response: resp})
}

// onFailed finalizes a benchmark via the FAILED path: delete the entry
// and fulfill the listener with response.state=FAILED plus whatever
// error messages have accumulated.
func (s *Service) onFailed(ctx context.Context, id string, cs *internalState, entry benchmodel.Entry, extra []string) {
	cs.mu.Lock()
	cs.response.State = benchmodel.StateFailed
	cs.response.FinishedAt = time.Now()
	cs.response.Errors = append(cs.response.Errors, entry.ErrorMessages...)
	cs.response.Errors = append(cs.response.Errors, extra...)
	resp := cs.response
	cs.mu.Unlock()

	s.deleteEntry(ctx, id)
	s.finishBenchmark(id)
	s.observeTerminal(resp)
	cs.listenerSlot.signalOnce(Outcome{Response: resp})
}

// onAborted finalizes a benchmark via the ABORTED path: collect
// whatever partial results alive nodes hold, then delete and fulfill
// with response.state=ABORTED (the global entry never passes through
// COMPLETED on this path, per spec scenario 4's "final state=ABORTED").
func (s *Service) onAborted(ctx context.Context, id string, cs *internalState, entry benchmodel.Entry) {
	compResults, errs := s.collectResults(ctx, id, cs, entry)
	cs.mu.Lock()
	cs.response.CompetitionResults = compResults
	cs.response.Errors = append(cs.response.Errors, errs...)
	cs.response.State = benchmodel.StateAborted
	cs.response.FinishedAt = time.Now()
	resp := cs.response
	cs.mu.Unlock()

	s.deleteEntry(ctx, id)
	s.finishBenchmark(id)
	s.observeTerminal(resp)
	cs.listenerSlot.signalOnce(Outcome{Response: resp})
}

// onResumed fires once every alive node has echoed RUNNING after a
// resumeBenchmark call; it writes global=RUNNING and releases every
// waiter registered by that call.
func (s *Service) onResumed(ctx context.Context, id string, cs *internalState) {
	_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		e, ok := meta.Entries[id]
		if !ok {
			return meta, nil
		}
		e = e.Clone()
		e.State = benchmodel.StateRunning
		e.UpdatedAt = time.Now()
		meta.Entries[id] = e
		return meta, nil
	})
	if err != nil {
		s.logger.Error("write resumed state failed", "benchmark_id", id, "error", err)
	}
	for _, w := range cs.drainResumeWaiters() {
		w.signalOnce(Outcome{})
	}
}

// onPaused fires once every alive node has echoed PAUSED after a
// pauseBenchmark call; it releases every waiter registered by that call.
func (s *Service) onPaused(cs *internalState) {
	for _, w := range cs.drainPauseWaiters() {
		w.signalOnce(Outcome{})
	}
}

// collectResults fans FetchResults out to every alive, non-failed node
// concurrently, then merges each competition's per-node results via the
// Aggregator. Grounded on the executor's dispatchIteration fan-out
// pattern (goroutines joined by a WaitGroup), reused here for the
// coordinator's own RPC fan-out with results returned on a buffered
// channel.
func (s *Service) collectResults(ctx context.Context, id string, cs *internalState, entry benchmodel.Entry) (map[string]benchmodel.CompetitionResult, []string) {
	alive := s.liveness.AliveAmong(id, cs.assignedNodes)
	var targets []string
	for _, n := range alive {
		if entry.NodeStateMap[n] != benchmodel.NodeFailed {
			targets = append(targets, n)
		}
	}

	type fetched struct {
		node string
		res  benchmodel.PerNodeResults
		err  error
	}
	results := make(chan fetched, len(targets))
	var wg sync.WaitGroup
	for _, n := range targets {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			res, err := s.transport.FetchResults(ctx, id, nodeID)
			results <- fetched{node: nodeID, res: res, err: err}
		}(n)
	}
	wg.Wait()
	close(results)

	byComp := map[string][]benchmodel.CompetitionNodeResult{}
	var fetchErrs []error
	var errStrs []string
	for f := range results {
		if f.err != nil {
			fetchErrs = append(fetchErrs, fmt.Errorf("node %s: %w", f.node, f.err))
			errStrs = append(errStrs, fmt.Sprintf("node %s: %v", f.node, f.err))
			continue
		}
		for _, cr := range f.res.Results {
			byComp[cr.Competition] = append(byComp[cr.Competition], cr)
		}
	}

	out := make(map[string]benchmodel.CompetitionResult, len(cs.def.Competitions))
	for _, comp := range cs.def.Competitions {
		merged, _ := aggregate.MergeWithErrors(comp.Name, byComp[comp.Name], fetchErrs, comp.EffectivePercentiles())
		out[comp.Name] = merged
	}
	return out, errStrs
}
