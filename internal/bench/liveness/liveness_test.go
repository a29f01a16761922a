package liveness_test

import (
	"testing"

	"github.com/user/benchctl/internal/bench/liveness"
)

func TestRegisterAndIsAlive(t *testing.T) {
	tr := liveness.New()
	if tr.IsAlive("b1", "n1") {
		t.Fatal("unregistered node should be dead")
	}
	tr.Register("b1", "n1")
	if !tr.IsAlive("b1", "n1") {
		t.Fatal("registered node should be alive")
	}
}

func TestNodeRemovedNeverResets(t *testing.T) {
	tr := liveness.New()
	tr.Register("b1", "n1")
	tr.Register("b2", "n1")
	tr.NodeRemoved("n1")
	if tr.IsAlive("b1", "n1") || tr.IsAlive("b2", "n1") {
		t.Fatal("NodeRemoved should clear all benchmarks referencing the node")
	}
	tr.Register("b1", "n1") // reconnect attempt with same id
	if tr.IsAlive("b1", "n1") {
		t.Fatal("a bit once cleared must never be set back")
	}
}

func TestAliveAmong(t *testing.T) {
	tr := liveness.New()
	tr.Register("b1", "n1")
	tr.Register("b1", "n2")
	tr.MarkDead("b1", "n2")
	got := tr.AliveAmong("b1", []string{"n1", "n2", "n3"})
	if len(got) != 1 || got[0] != "n1" {
		t.Fatalf("AliveAmong = %v", got)
	}
}
