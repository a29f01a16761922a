// Package coordinator implements C5: the master-only service that
// accepts client API calls, assigns executors, aggregates per-node
// state, advances the global phase, and collates final results. It is
// grounded on corvo's dependency-injection style (services receive
// Store/Transport/liveness as constructor values, no global registry,
// per spec §9) and its cluster-state dispatch goroutine idiom in
// internal/raft/cluster.go.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/benchctl/internal/bench/glob"
	"github.com/user/benchctl/internal/bench/liveness"
	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/bench/transport"
	"github.com/user/benchctl/internal/benchmodel"
)

// Service is the C5 CoordinatorService. Every public method refuses with
// benchmodel.ErrNotMaster when transport.IsMaster() is false (spec §4.5).
type Service struct {
	store     statestore.Store
	transport transport.Transport
	liveness  *liveness.Tracker
	logger    *slog.Logger
	metrics   MetricsSink

	mu     sync.Mutex
	states map[string]*internalState

	unsubscribe func()
}

// New builds a CoordinatorService. Start must be called before any
// benchmark progresses past INITIALIZING, since only the event loop
// drives the phase machine forward.
func New(store statestore.Store, tr transport.Transport, lt *liveness.Tracker) *Service {
	return &Service{
		store:     store,
		transport: tr,
		liveness:  lt,
		logger:    slog.Default().With("component", "coordinator"),
		metrics:   noopMetricsSink{},
		states:    map[string]*internalState{},
	}
}

// SetTransport wires the transport after construction, for callers that
// must register this Service as a transport.DefinitionSource with their
// Transport adapter before the adapter itself exists (localbus.NewNode
// and the RPC server both need the Service first). Call before Start.
func (s *Service) SetTransport(tr transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = tr
}

// Start subscribes to the state store and to node-removal notifications.
func (s *Service) Start() {
	s.unsubscribe = s.store.Subscribe(s.onStateChange)
	s.transport.OnNodeRemoved(s.liveness.NodeRemoved)
}

// Stop releases the subscription.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Definition implements transport.DefinitionSource so the RPC adapter can
// serve FetchDefinition without depending on this package's internals.
func (s *Service) Definition(benchmarkID string) (benchmodel.BenchmarkDefinition, bool) {
	s.mu.Lock()
	cs, ok := s.states[benchmarkID]
	s.mu.Unlock()
	if !ok {
		return benchmodel.BenchmarkDefinition{}, false
	}
	return cs.def, true
}

// StartBenchmark implements spec §4.5's startBenchmark. It selects N
// alive nodes, writes the INITIALIZING entry, and returns a waiter the
// caller blocks on for the final Response; the caller owns how long it
// waits (spec §5's "deadlines don't roll back cluster state").
func (s *Service) StartBenchmark(ctx context.Context, def benchmodel.BenchmarkDefinition) (*TerminalStateWaiter[Outcome], error) {
	if !s.transport.IsMaster() {
		return nil, benchmodel.ErrNotMaster
	}

	alive := s.transport.AliveNodes()
	if len(alive) < def.NumExecutorNodes {
		return nil, benchmodel.NewError(benchmodel.ErrorCodeInsufficientExecutors,
			fmt.Sprintf("need %d executor nodes, %d alive", def.NumExecutorNodes, len(alive)))
	}
	chosen := append([]string(nil), alive[:def.NumExecutorNodes]...)

	nodeStates := make(map[string]benchmodel.NodeState, len(chosen))
	for _, n := range chosen {
		nodeStates[n] = benchmodel.NodeInitializing
		s.liveness.Register(def.BenchmarkID, n)
	}

	cs := newInternalState(def, chosen)

	s.mu.Lock()
	if _, exists := s.states[def.BenchmarkID]; exists {
		s.mu.Unlock()
		return nil, benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "benchmark id already active")
	}
	s.states[def.BenchmarkID] = cs
	s.metrics.SetActiveCount(len(s.states))
	s.mu.Unlock()

	now := time.Now()
	_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		if _, exists := meta.Entries[def.BenchmarkID]; exists {
			return meta, benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "benchmark id already exists")
		}
		meta.Entries[def.BenchmarkID] = benchmodel.Entry{
			BenchmarkID:     def.BenchmarkID,
			State:           benchmodel.StateInitializing,
			NodeStateMap:    nodeStates,
			ConcreteNodes:   chosen,
			ClientRequestID: def.ClientRequestID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return meta, nil
	})
	if err != nil {
		s.mu.Lock()
		delete(s.states, def.BenchmarkID)
		s.mu.Unlock()
		return nil, err
	}
	return cs.listenerSlot, nil
}

// ListBenchmarks implements listBenchmarks: reads current state, filters
// by glob patterns over benchmark ids.
func (s *Service) ListBenchmarks(ctx context.Context, patterns []string) ([]benchmodel.Status, error) {
	if !s.transport.IsMaster() {
		return nil, benchmodel.ErrNotMaster
	}
	snap, err := s.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]benchmodel.Status, 0, len(snap.Meta.Entries))
	for id, entry := range snap.Meta.Entries {
		if !glob.MatchAny(patterns, id) {
			continue
		}
		out = append(out, benchmodel.Status{
			BenchmarkID:  id,
			State:        entry.State,
			NodeStateMap: entry.NodeStateMap,
			CreatedAt:    entry.CreatedAt,
			UpdatedAt:    entry.UpdatedAt,
		})
	}
	return out, nil
}

// illegalTransitionError builds the Outcome.Err a caller sees when their
// requested move is rejected by benchmodel.ValidGlobalTransition instead
// of written to the store: spec invariant 1 allows PAUSED only from
// RUNNING, RESUMING only from PAUSED, and ABORTED only from RUNNING,
// PAUSED, or RESUMING. Without this guard a client-requested move like
// INITIALIZING->PAUSED would stamp NodePaused over nodes that are still
// initializing, or an INITIALIZING->ABORTED move would wait on a
// NodeAborted echo from a worker that never started (it only launches
// once local state reaches RUNNING+NodeReady) and leak the entry and its
// liveness registration forever.
func illegalTransitionError(id string, from benchmodel.GlobalState, action string) error {
	return benchmodel.NewError(benchmodel.ErrorCodeInvalidState,
		fmt.Sprintf("benchmark %q cannot be %s from state %s", id, action, from))
}

// PauseBenchmark implements pauseBenchmark: sets global=PAUSED and all
// alive nodes' entries to PAUSED for every matching benchmark, then waits
// for every alive executor to echo PAUSED.
func (s *Service) PauseBenchmark(ctx context.Context, patterns []string) ([]Outcome, error) {
	if !s.transport.IsMaster() {
		return nil, benchmodel.ErrNotMaster
	}
	ids := s.matchingActiveIDs(patterns)
	if len(ids) == 0 {
		return nil, benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "no benchmark matches pattern")
	}

	results := make([]Outcome, len(ids))
	var pending []int
	waiters := make([]*TerminalStateWaiter[Outcome], 0, len(ids))
	for i, id := range ids {
		s.mu.Lock()
		cs, ok := s.states[id]
		s.mu.Unlock()
		if !ok {
			results[i] = Outcome{Err: benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "benchmark no longer active")}
			continue
		}

		alive := s.liveness.AliveAmong(id, cs.assignedNodes)
		var from benchmodel.GlobalState
		var illegal bool
		_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
			entry, ok := meta.Entries[id]
			if !ok {
				return meta, nil
			}
			from = entry.State
			if !benchmodel.ValidGlobalTransition(entry.State, benchmodel.StatePaused) {
				illegal = true
				return meta, nil
			}
			entry = entry.Clone()
			entry.State = benchmodel.StatePaused
			for _, n := range alive {
				entry.NodeStateMap[n] = benchmodel.NodePaused
			}
			entry.UpdatedAt = time.Now()
			meta.Entries[id] = entry
			return meta, nil
		})
		if err != nil {
			return nil, err
		}
		if illegal {
			results[i] = Outcome{Err: illegalTransitionError(id, from, "paused")}
			continue
		}

		w := NewTerminalStateWaiter[Outcome]()
		cs.addPauseWaiter(w)
		waiters = append(waiters, w)
		pending = append(pending, i)
	}
	waited := waitAll(ctx, waiters)
	for j, idx := range pending {
		results[idx] = waited[j]
	}
	return results, nil
}

// ResumeBenchmark implements resumeBenchmark: sets global=RESUMING; each
// executor releases its pause gate and writes local=RUNNING itself, and
// this call's waiters fire once every alive executor has echoed RUNNING.
func (s *Service) ResumeBenchmark(ctx context.Context, patterns []string) ([]Outcome, error) {
	if !s.transport.IsMaster() {
		return nil, benchmodel.ErrNotMaster
	}
	ids := s.matchingActiveIDs(patterns)
	if len(ids) == 0 {
		return nil, benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "no benchmark matches pattern")
	}

	results := make([]Outcome, len(ids))
	var pending []int
	waiters := make([]*TerminalStateWaiter[Outcome], 0, len(ids))
	for i, id := range ids {
		s.mu.Lock()
		cs, ok := s.states[id]
		s.mu.Unlock()
		if !ok {
			results[i] = Outcome{Err: benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "benchmark no longer active")}
			continue
		}

		var from benchmodel.GlobalState
		var illegal bool
		_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
			entry, ok := meta.Entries[id]
			if !ok {
				return meta, nil
			}
			from = entry.State
			if !benchmodel.ValidGlobalTransition(entry.State, benchmodel.StateResuming) {
				illegal = true
				return meta, nil
			}
			entry = entry.Clone()
			entry.State = benchmodel.StateResuming
			entry.UpdatedAt = time.Now()
			meta.Entries[id] = entry
			return meta, nil
		})
		if err != nil {
			return nil, err
		}
		if illegal {
			results[i] = Outcome{Err: illegalTransitionError(id, from, "resumed")}
			continue
		}

		w := NewTerminalStateWaiter[Outcome]()
		cs.addResumeWaiter(w)
		waiters = append(waiters, w)
		pending = append(pending, i)
	}
	waited := waitAll(ctx, waiters)
	for j, idx := range pending {
		results[idx] = waited[j]
	}
	return results, nil
}

// AbortBenchmark implements abortBenchmark: sets global=ABORTED and
// best-effort nudges every alive node; the returned outcomes fire once
// the benchmark reaches its final (partial) response.
func (s *Service) AbortBenchmark(ctx context.Context, patterns []string) ([]Outcome, error) {
	if !s.transport.IsMaster() {
		return nil, benchmodel.ErrNotMaster
	}
	ids := s.matchingActiveIDs(patterns)
	if len(ids) == 0 {
		return nil, benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "no benchmark matches pattern")
	}

	results := make([]Outcome, len(ids))
	var pending []int
	waiters := make([]*TerminalStateWaiter[Outcome], 0, len(ids))
	for i, id := range ids {
		s.mu.Lock()
		cs, ok := s.states[id]
		s.mu.Unlock()
		if !ok {
			results[i] = Outcome{Err: benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "benchmark no longer active")}
			continue
		}

		var from benchmodel.GlobalState
		var illegal bool
		_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
			entry, ok := meta.Entries[id]
			if !ok {
				return meta, nil
			}
			from = entry.State
			if !benchmodel.ValidGlobalTransition(entry.State, benchmodel.StateAborted) {
				illegal = true
				return meta, nil
			}
			entry = entry.Clone()
			entry.State = benchmodel.StateAborted
			entry.UpdatedAt = time.Now()
			meta.Entries[id] = entry
			return meta, nil
		})
		if err != nil {
			return nil, err
		}
		if illegal {
			results[i] = Outcome{Err: illegalTransitionError(id, from, "aborted")}
			continue
		}

		waiters = append(waiters, cs.listenerSlot)
		pending = append(pending, i)

		for _, n := range s.liveness.AliveAmong(id, cs.assignedNodes) {
			go func(nodeID string) {
				_ = s.transport.AbortLocal(ctx, id, nodeID)
			}(n)
		}
	}
	waited := waitAll(ctx, waiters)
	for j, idx := range pending {
		results[idx] = waited[j]
	}
	return results, nil
}

func (s *Service) matchingActiveIDs(patterns []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return glob.FilterIDs(patterns, ids)
}

func (s *Service) finishBenchmark(id string) {
	s.mu.Lock()
	delete(s.states, id)
	s.metrics.SetActiveCount(len(s.states))
	s.mu.Unlock()
	s.liveness.Forget(id)
}

func (s *Service) deleteEntry(ctx context.Context, id string) {
	_, err := s.store.Update(ctx, func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		delete(meta.Entries, id)
		return meta, nil
	})
	if err != nil {
		s.logger.Error("delete entry failed", "benchmark_id", id, "error", err)
	}
}

func waitAll(ctx context.Context, waiters []*TerminalStateWaiter[Outcome]) []Outcome {
	out := make([]Outcome, len(waiters))
	for i, w := range waiters {
		o, err := w.Wait(ctx)
		if err != nil {
			out[i] = Outcome{Err: benchmodel.NewError(benchmodel.ErrorCodeTimeout, err.Error())}
			continue
		}
		out[i] = o
	}
	return out
}
