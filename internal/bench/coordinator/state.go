package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/benchctl/internal/benchmodel"
)

// internalState is InternalCoordinatorState from spec §3: coordinator-only,
// in-memory, one per active benchmark. It is mutated only by the
// cluster-state dispatch goroutine, which is single-threaded per
// subscriber; the CAS flags exist because RPC completions (FetchResults,
// FetchDefinition) complete on their own goroutines and may race with the
// dispatch goroutine's next observation of the same entry.
type internalState struct {
	def benchmodel.BenchmarkDefinition

	// assignedNodes is fixed at startBenchmark time (spec invariant: "every
	// node in nodeStateMap.keys was in the initial assignment").
	assignedNodes []string

	running  atomic.Bool
	paused   atomic.Bool
	complete atomic.Bool

	mu       sync.Mutex
	response benchmodel.Response

	// listenerSlot is the one-shot promise fulfilled when the benchmark
	// reaches a terminal state (onComplete/onFailed/onAborted), shared by whichever
	// caller is waiting on the final Response: the original startBenchmark
	// caller and, if an abort was issued, the abortBenchmark caller too.
	listenerSlot *TerminalStateWaiter[Outcome]

	// pauseWaiters/resumeWaiters are rebuilt on each pauseBenchmark/
	// resumeBenchmark call and fulfilled once every alive node echoes the
	// target NodeState.
	pauseWaiters  []*TerminalStateWaiter[Outcome]
	resumeWaiters []*TerminalStateWaiter[Outcome]
}

func newInternalState(def benchmodel.BenchmarkDefinition, assignedNodes []string) *internalState {
	return &internalState{
		def:           def,
		assignedNodes: assignedNodes,
		listenerSlot:  NewTerminalStateWaiter[Outcome](),
		response: benchmodel.Response{
			BenchmarkID: def.BenchmarkID,
			State:       benchmodel.StateInitializing,
			StartedAt:   time.Now(),
		},
	}
}

func (cs *internalState) addPauseWaiter(w *TerminalStateWaiter[Outcome]) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pauseWaiters = append(cs.pauseWaiters, w)
}

func (cs *internalState) addResumeWaiter(w *TerminalStateWaiter[Outcome]) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.resumeWaiters = append(cs.resumeWaiters, w)
}

func (cs *internalState) drainPauseWaiters() []*TerminalStateWaiter[Outcome] {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	w := cs.pauseWaiters
	cs.pauseWaiters = nil
	return w
}

func (cs *internalState) drainResumeWaiters() []*TerminalStateWaiter[Outcome] {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	w := cs.resumeWaiters
	cs.resumeWaiters = nil
	return w
}
