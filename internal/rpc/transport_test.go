package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/user/benchctl/internal/benchmodel"
)

type staticLeader struct {
	isLeader bool
	leaderID string
}

func (l *staticLeader) IsLeader() bool   { return l.isLeader }
func (l *staticLeader) LeaderID() string { return l.leaderID }

func TestTransportFetchDefinitionRoutesToLeader(t *testing.T) {
	defs := &fakeDefs{defs: map[string]benchmodel.BenchmarkDefinition{"b1": {BenchmarkID: "b1"}}}
	srv := setupTest(t, defs, nil, nil)

	leader := &staticLeader{isLeader: true, leaderID: "n1"}
	tr := NewTransport("n1", leader, map[string]string{"n1": srv.Addr().String()})
	t.Cleanup(tr.Stop)

	if !tr.IsMaster() {
		t.Fatal("IsMaster() = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	def, err := tr.FetchDefinition(ctx, "b1", "n1")
	if err != nil {
		t.Fatalf("FetchDefinition: %v", err)
	}
	if def.BenchmarkID != "b1" {
		t.Fatalf("BenchmarkID = %q, want b1", def.BenchmarkID)
	}
}

func TestTransportLivenessSweepMarksDeadAfterThreshold(t *testing.T) {
	leader := &staticLeader{isLeader: false, leaderID: "n1"}
	// Point at a closed port: every ping fails immediately.
	tr := NewTransport("n2", leader, map[string]string{"n1": "127.0.0.1:1", "n2": "127.0.0.1:0"})
	t.Cleanup(tr.Stop)

	removed := make(chan string, 1)
	tr.OnNodeRemoved(func(id string) { removed <- id })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < livenessFailThreshold; i++ {
		tr.sweepOnce(ctx)
	}

	select {
	case id := <-removed:
		if id != "n1" {
			t.Fatalf("removed node = %q, want n1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("expected OnNodeRemoved to fire for n1")
	}

	alive := tr.AliveNodes()
	for _, id := range alive {
		if id == "n1" {
			t.Fatal("n1 should no longer be reported alive")
		}
	}
}
