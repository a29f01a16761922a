package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/bench/statestore/memstore"
	"github.com/user/benchctl/internal/benchmodel"
)

func TestUpdateAdvancesVersion(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	snap, err := s.Update(ctx, func(m benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		m.Entries["b1"] = benchmodel.Entry{BenchmarkID: "b1", State: benchmodel.StateInitializing}
		return m, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}

	read, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read.Meta.Entries["b1"].State != benchmodel.StateInitializing {
		t.Fatalf("state = %q", read.Meta.Entries["b1"].State)
	}
}

func TestSubscribeDeliversInCommitOrder(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	var mu = make(chan struct{}, 1)
	seen := make([]benchmodel.GlobalState, 0, 3)
	unsub := s.Subscribe(func(prev, curr statestore.Snapshot) {
		seen = append(seen, curr.Meta.Entries["b1"].State)
		if len(seen) == 3 {
			mu <- struct{}{}
		}
	})
	defer unsub()

	states := []benchmodel.GlobalState{benchmodel.StateInitializing, benchmodel.StateRunning, benchmodel.StateCompleted}
	for _, st := range states {
		st := st
		_, err := s.Update(ctx, func(m benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
			e := m.Entries["b1"]
			e.BenchmarkID = "b1"
			e.State = st
			m.Entries["b1"] = e
			return m, nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	select {
	case <-mu:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for listener deliveries")
	}
	for i, st := range states {
		if seen[i] != st {
			t.Fatalf("seen[%d] = %q, want %q", i, seen[i], st)
		}
	}
}

func TestCloneIsolatesCallers(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	_, err := s.Update(ctx, func(m benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error) {
		m.Entries["b1"] = benchmodel.Entry{BenchmarkID: "b1", NodeStateMap: map[string]benchmodel.NodeState{"n1": benchmodel.NodeReady}}
		return m, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := s.Read(ctx)
	snap.Meta.Entries["b1"].NodeStateMap["n1"] = benchmodel.NodeFailed

	snap2, _ := s.Read(ctx)
	if snap2.Meta.Entries["b1"].NodeStateMap["n1"] != benchmodel.NodeReady {
		t.Fatalf("mutation through a cloned snapshot leaked into the store")
	}
}
