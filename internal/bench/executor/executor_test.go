package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/user/benchctl/internal/bench/executor"
	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/bench/statestore/memstore"
	"github.com/user/benchctl/internal/bench/transport/localbus"
	"github.com/user/benchctl/internal/benchmodel"
)

// definitionFake plays the master side of FetchDefinition for tests that
// don't need the full coordinator.
type definitionFake struct {
	def benchmodel.BenchmarkDefinition
}

func (d *definitionFake) Definition(benchmarkID string) (benchmodel.BenchmarkDefinition, bool) {
	if benchmarkID != d.def.BenchmarkID {
		return benchmodel.BenchmarkDefinition{}, false
	}
	return d.def, true
}

func waitForNodeState(t *testing.T, store statestore.Store, benchmarkID, nodeID string, want benchmodel.NodeState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := store.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if entry, ok := snap.Meta.Entries[benchmarkID]; ok {
			if entry.NodeStateMap[nodeID] == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node %s never reached %s for %s", nodeID, want, benchmarkID)
}

func seedEntry(t *testing.T, store statestore.Store, benchmarkID string, nodes ...string) {
	t.Helper()
	nodeStates := map[string]benchmodel.NodeState{}
	for _, n := range nodes {
		nodeStates[n] = benchmodel.NodeInitializing
	}
	_, err := store.Update(context.Background(), func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		meta.Entries[benchmarkID] = benchmodel.Entry{
			BenchmarkID:   benchmarkID,
			State:         benchmodel.StateInitializing,
			NodeStateMap:  nodeStates,
			ConcreteNodes: nodes,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		return meta, nil
	})
	if err != nil {
		t.Fatalf("seedEntry: %v", err)
	}
}

func setGlobalState(t *testing.T, store statestore.Store, benchmarkID string, state benchmodel.GlobalState) {
	t.Helper()
	_, err := store.Update(context.Background(), func(meta benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		entry := meta.Entries[benchmarkID].Clone()
		entry.State = state
		entry.UpdatedAt = time.Now()
		meta.Entries[benchmarkID] = entry
		return meta, nil
	})
	if err != nil {
		t.Fatalf("setGlobalState: %v", err)
	}
}

func TestExecutorRunsThroughToCompleted(t *testing.T) {
	store := memstore.New()
	bus := localbus.NewBus()

	def := benchmodel.BenchmarkDefinition{
		BenchmarkID:      "b1",
		NumExecutorNodes: 1,
		Settings:         benchmodel.Settings{Iterations: 2, Concurrency: 1, Multiplier: 1},
		Competitions: []benchmodel.Competition{
			{
				Name:       "c1",
				Iterations: 2,
				Requests:   []benchmodel.SearchRequest{{Name: "q1"}},
			},
		},
	}
	defs := &definitionFake{def: def}
	fake := &searchexec.Fake{DurationMs: 1, Hits: 1}

	svc := executor.New("n1", store, nil, fake)
	node := localbus.NewNode(bus, "n1", nil, svc, svc)
	svc.SetTransport(node)
	bus.SetMaster("master")
	localbus.NewNode(bus, "master", defs, nil, nil)

	svc.Start()
	defer svc.Stop()

	seedEntry(t, store, "b1", "n1")

	waitForNodeState(t, store, "b1", "n1", benchmodel.NodeReady)
	setGlobalState(t, store, "b1", benchmodel.StateRunning)
	waitForNodeState(t, store, "b1", "n1", benchmodel.NodeCompleted)

	results, ok := svc.Results("b1")
	if !ok {
		t.Fatal("expected cached results after completion")
	}
	if len(results.Results) != 1 {
		t.Fatalf("Results = %+v", results)
	}
	if got := fake.Calls(); got != 2 {
		t.Fatalf("search executor Calls = %d, want 2", got)
	}
}

func TestExecutorUnknownBenchmarkFailsLocal(t *testing.T) {
	store := memstore.New()
	bus := localbus.NewBus()
	defs := &definitionFake{def: benchmodel.BenchmarkDefinition{BenchmarkID: "other"}}
	fake := &searchexec.Fake{}

	svc := executor.New("n1", store, nil, fake)
	node := localbus.NewNode(bus, "n1", nil, svc, svc)
	svc.SetTransport(node)
	bus.SetMaster("master")
	localbus.NewNode(bus, "master", defs, nil, nil)

	svc.Start()
	defer svc.Stop()

	seedEntry(t, store, "missing", "n1")
	waitForNodeState(t, store, "missing", "n1", benchmodel.NodeFailed)
}

func TestExecutorAbortMidRunStopsAtCheckpoint(t *testing.T) {
	store := memstore.New()
	bus := localbus.NewBus()

	def := benchmodel.BenchmarkDefinition{
		BenchmarkID:      "b2",
		NumExecutorNodes: 1,
		Settings:         benchmodel.Settings{Iterations: 100, Concurrency: 1, Multiplier: 1},
		Competitions: []benchmodel.Competition{
			{Name: "c1", Iterations: 100, Requests: []benchmodel.SearchRequest{{Name: "q1"}}},
		},
	}
	defs := &definitionFake{def: def}
	fake := &searchexec.Fake{DurationMs: 1, Hits: 1, Delay: 5 * time.Millisecond}

	svc := executor.New("n1", store, nil, fake)
	node := localbus.NewNode(bus, "n1", nil, svc, svc)
	svc.SetTransport(node)
	bus.SetMaster("master")
	localbus.NewNode(bus, "master", defs, nil, nil)

	svc.Start()
	defer svc.Stop()

	seedEntry(t, store, "b2", "n1")
	waitForNodeState(t, store, "b2", "n1", benchmodel.NodeReady)
	setGlobalState(t, store, "b2", benchmodel.StateRunning)

	time.Sleep(20 * time.Millisecond)
	setGlobalState(t, store, "b2", benchmodel.StateAborted)

	waitForNodeState(t, store, "b2", "n1", benchmodel.NodeAborted)
}
