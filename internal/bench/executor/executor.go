// Package executor implements C4: the per-node worker that observes
// state-store events for benchmarks assigned to the local node and
// drives the local phase machine described in spec §4.4. It is grounded
// on the teacher's dispatch-goroutine-per-job idiom in
// internal/raft/cluster.go (one long-lived goroutine draining a
// buffered channel of committed events) and the CAS-guarded
// once-only-transition idiom used throughout that file.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/bench/transport"
	"github.com/user/benchctl/internal/benchmodel"
)

// benchState is PerExecutorState from spec §3: local phase bookkeeping
// for one benchmark assigned to this node, mutated only by this node's
// dispatch handler and its one worker goroutine.
type benchState struct {
	mu          sync.Mutex
	def         benchmodel.BenchmarkDefinition
	initStarted bool
	started     bool

	pause *pauseGate
	abort atomic.Bool

	results []benchmodel.CompetitionNodeResult
}

func newBenchState() *benchState {
	return &benchState{pause: newPauseGate()}
}

// Service is the C4 ExecutorService.
type Service struct {
	nodeID    string
	store     statestore.Store
	transport transport.Transport
	search    searchexec.SearchExecutor
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*benchState

	unsubscribe func()
}

// New builds an ExecutorService bound to nodeID. Start must be called to
// begin observing state-store events.
func New(nodeID string, store statestore.Store, tr transport.Transport, search searchexec.SearchExecutor) *Service {
	return &Service{
		nodeID:    nodeID,
		store:     store,
		transport: tr,
		search:    search,
		logger:    slog.Default().With("component", "executor", "node_id", nodeID),
		states:    map[string]*benchState{},
	}
}

// SetTransport wires the transport after construction, for callers that
// must build their transport adapter from the Service itself (it
// implements both transport.ResultsSource and transport.AbortSink) and
// so cannot supply a transport at New time without a cycle.
func (s *Service) SetTransport(tr transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = tr
}

// Start subscribes to the state store. It is idempotent-safe to call
// once; calling twice leaks a subscription and is a caller bug.
func (s *Service) Start() {
	s.unsubscribe = s.store.Subscribe(s.onStateChange)
}

// Stop releases the subscription.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Service) onStateChange(prev, curr statestore.Snapshot) {
	ctx := context.Background()

	for id, entry := range curr.Meta.Entries {
		s.onEntryEvent(ctx, id, entry)
	}

	// A benchmark id present in prev but absent from curr means the
	// coordinator has deleted the entry; drop local bookkeeping so the
	// map does not grow without bound across a long-lived process.
	for id := range prev.Meta.Entries {
		if _, stillPresent := curr.Meta.Entries[id]; !stillPresent {
			s.forget(id)
		}
	}
}

func (s *Service) onEntryEvent(ctx context.Context, benchmarkID string, entry benchmodel.Entry) {
	observedLocal, assigned := entry.NodeStateMap[s.nodeID]
	if !assigned {
		return
	}

	bs := s.getOrCreate(benchmarkID)

	switch {
	case entry.State == benchmodel.StateInitializing && observedLocal == benchmodel.NodeInitializing:
		bs.mu.Lock()
		already := bs.initStarted
		bs.initStarted = true
		bs.mu.Unlock()
		if !already {
			go s.initialize(ctx, benchmarkID, bs)
		}

	case entry.State == benchmodel.StateRunning && observedLocal == benchmodel.NodeReady:
		bs.mu.Lock()
		already := bs.started
		bs.started = true
		def := bs.def
		bs.mu.Unlock()
		if !already {
			go s.runWorker(ctx, benchmarkID, bs, def)
		}

	case entry.State == benchmodel.StatePaused:
		bs.pause.Pause()

	case entry.State == benchmodel.StateResuming:
		bs.pause.Resume()
		if observedLocal == benchmodel.NodePaused {
			go s.transitionLocal(ctx, benchmarkID, benchmodel.NodeRunning, nil)
		}

	case entry.State == benchmodel.StateAborted:
		bs.abort.Store(true)
		// A worker blocked in pause.Wait (global was PAUSED when the
		// abort landed) would never see the abort flag otherwise, since
		// it polls abort only between iterations, not while gated.
		bs.pause.Resume()
	}
}

func (s *Service) getOrCreate(benchmarkID string) *benchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.states[benchmarkID]
	if !ok {
		bs = newBenchState()
		s.states[benchmarkID] = bs
	}
	return bs
}

func (s *Service) forget(benchmarkID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, benchmarkID)
}

func (s *Service) initialize(ctx context.Context, benchmarkID string, bs *benchState) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()

	def, err := tr.FetchDefinition(ctx, benchmarkID, s.nodeID)
	if err != nil {
		if benchmodel.IsUnknownBenchmark(err) {
			s.transitionLocal(ctx, benchmarkID, benchmodel.NodeFailed, []string{err.Error()})
			return
		}
		// Per spec §5, a transport failure is retried once against the
		// master before becoming a node-level FAILED.
		def, err = tr.FetchDefinition(ctx, benchmarkID, s.nodeID)
		if err != nil {
			s.logger.Warn("fetch definition failed after retry", "benchmark_id", benchmarkID, "error", err)
			s.transitionLocal(ctx, benchmarkID, benchmodel.NodeFailed, []string{err.Error()})
			return
		}
	}

	bs.mu.Lock()
	bs.def = def
	bs.mu.Unlock()

	s.transitionLocal(ctx, benchmarkID, benchmodel.NodeReady, nil)
}

// transitionLocal writes the node's new local state into the store,
// skipping the write if the store already reflects it (idempotent
// re-observation, spec §4.4).
func (s *Service) transitionLocal(ctx context.Context, benchmarkID string, newState benchmodel.NodeState, errMsgs []string) {
	_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		entry, ok := meta.Entries[benchmarkID]
		if !ok {
			return meta, nil
		}
		if entry.NodeStateMap[s.nodeID] == newState && len(errMsgs) == 0 {
			return meta, nil
		}
		entry = entry.Clone()
		entry.NodeStateMap[s.nodeID] = newState
		entry.ErrorMessages = append(entry.ErrorMessages, errMsgs...)
		entry.UpdatedAt = time.Now()
		meta.Entries[benchmarkID] = entry
		return meta, nil
	})
	if err != nil {
		s.logger.Error("write local state failed", "benchmark_id", benchmarkID, "state", newState, "error", err)
	}
}

// Results implements transport.ResultsSource for the RPC adapter's
// "bench/node/status" handler.
func (s *Service) Results(benchmarkID string) (benchmodel.PerNodeResults, bool) {
	s.mu.Lock()
	bs, ok := s.states[benchmarkID]
	s.mu.Unlock()
	if !ok {
		return benchmodel.PerNodeResults{}, false
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return benchmodel.PerNodeResults{
		NodeID:  s.nodeID,
		Results: append([]benchmodel.CompetitionNodeResult(nil), bs.results...),
	}, true
}

// NudgeAbort implements transport.AbortSink for the "bench/node/abort"
// handler. The authoritative abort signal is still the state-store
// transition; this only wakes a worker sooner.
func (s *Service) NudgeAbort(benchmarkID string) {
	s.mu.Lock()
	bs, ok := s.states[benchmarkID]
	s.mu.Unlock()
	if ok {
		bs.abort.Store(true)
		bs.pause.Resume()
	}
}
