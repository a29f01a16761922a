package benchexecutor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/user/benchctl/internal/bench/searchexec"
)

func TestNewAndStop(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		NodeID:      "exec-1",
		DataDir:     filepath.Join(dir, "exec-1"),
		RaftBind:    "127.0.0.1:19401",
		RPCBindAddr: "127.0.0.1:19501",
		Search:      &searchexec.Fake{DurationMs: 1, Hits: 1},
	}

	node, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if node.NodeID() != "exec-1" {
		t.Errorf("NodeID() = %q, want exec-1", node.NodeID())
	}

	time.Sleep(50 * time.Millisecond)

	if err := node.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsMissingSearch(t *testing.T) {
	_, err := New(Config{NodeID: "exec-1"})
	if err == nil {
		t.Fatal("expected error for missing Search")
	}
}

func TestNewRejectsMissingNodeID(t *testing.T) {
	_, err := New(Config{Search: &searchexec.Fake{}})
	if err == nil {
		t.Fatal("expected error for missing NodeID")
	}
}
