package raft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/hashicorp/raft"
)

// Cluster manages one Raft node plus its Pebble-backed FSM: no apply
// batching, no fetch-queue admission control, no materialized view, no
// latency histograms — an Update call here proposes exactly one
// whole-document command per call, so none of that high-throughput
// machinery has anywhere to attach.
type Cluster struct {
	raft      *raft.Raft
	fsm       *FSM
	transport *raft.NetworkTransport
	logStore  raftStore
	snapshot  raft.SnapshotStore
	pdb       *pebble.DB
	config    ClusterConfig
}

// NewCluster creates and starts a Raft node backed by Pebble.
func NewCluster(cfg ClusterConfig) (*Cluster, error) {
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 10 * time.Second
	}
	if cfg.RaftStore == "" {
		cfg.RaftStore = "bolt"
	}
	if cfg.SnapshotThreshold == 0 {
		cfg.SnapshotThreshold = 2048
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	cfg.RaftStore = strings.ToLower(cfg.RaftStore)

	pebbleDir := filepath.Join(cfg.DataDir, "pebble")
	raftDir := filepath.Join(cfg.DataDir, "raft")
	for _, dir := range []string{pebbleDir, raftDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	pdb, err := pebble.Open(pebbleDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	fsm := NewFSM(pdb)
	fsm.SetPebbleNoSync(cfg.PebbleNoSync)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.SnapshotThreshold = cfg.SnapshotThreshold
	raftConfig.SnapshotInterval = cfg.SnapshotInterval

	transport, err := newTCPTransport(cfg.RaftBind, cfg.RaftAdvertise)
	if err != nil {
		pdb.Close()
		return nil, fmt.Errorf("create transport: %w", err)
	}

	logStore, err := openRaftStore(raftDir, cfg)
	if err != nil {
		pdb.Close()
		transport.Close()
		return nil, err
	}

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		pdb.Close()
		transport.Close()
		logStore.Close()
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshotStore, transport)
	if err != nil {
		pdb.Close()
		transport.Close()
		logStore.Close()
		return nil, fmt.Errorf("create raft: %w", err)
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()},
			},
		}
		f := r.BootstrapCluster(configuration)
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			slog.Warn("bootstrap cluster", "error", err)
		}
	}

	return &Cluster{
		raft:      r,
		fsm:       fsm,
		transport: transport,
		logStore:  logStore,
		snapshot:  snapshotStore,
		pdb:       pdb,
		config:    cfg,
	}, nil
}

// IsLeader reports whether this node currently holds the Raft leadership.
func (c *Cluster) IsLeader() bool { return c.raft.State() == raft.Leader }

// LeaderAddr returns the current leader's advertised Raft address, or ""
// if no leader is known.
func (c *Cluster) LeaderAddr() string {
	addr, _ := c.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the current leader's node id, or "" if unknown.
func (c *Cluster) LeaderID() string {
	_, id := c.raft.LeaderWithID()
	return string(id)
}

// Raft returns the underlying raft.Raft instance for configuration
// changes not wrapped by Cluster.
func (c *Cluster) Raft() *raft.Raft { return c.raft }

// FSM returns the cluster's finite state machine.
func (c *Cluster) FSM() *FSM { return c.fsm }

// AddVoter adds nodeID as a voting member at addr.
func (c *Cluster) AddVoter(nodeID, addr string) error {
	return c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// RemoveServer removes nodeID from the cluster configuration.
func (c *Cluster) RemoveServer(nodeID string) error {
	return c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

// JoinCluster asks the leader at leaderHTTPAddr to add this node as a
// voter, the same leader-contacted-over-HTTP membership-change flow the
// source's own Cluster.JoinCluster uses against its
// "/api/v1/cluster/join" route, here against "/_cluster/join".
func (c *Cluster) JoinCluster(leaderHTTPAddr string) error {
	if strings.TrimSpace(leaderHTTPAddr) == "" {
		return fmt.Errorf("leader address is required")
	}
	base := strings.TrimSpace(leaderHTTPAddr)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	joinURL := strings.TrimRight(base, "/") + "/_cluster/join"

	body, err := json.Marshal(map[string]string{
		"node_id": c.config.NodeID,
		"addr":    string(c.transport.LocalAddr()),
	})
	if err != nil {
		return fmt.Errorf("marshal join request: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodPost, joinURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("join request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var m map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&m)
		if msg := m["error"]; msg != "" {
			return fmt.Errorf("join rejected: %s", msg)
		}
		return fmt.Errorf("join rejected: status %d", resp.StatusCode)
	}
	return nil
}

// WaitForLeader blocks until a leader is known or timeout elapses.
func (c *Cluster) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, id := c.raft.LeaderWithID(); id != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leader elected within %s", timeout)
}

// Configuration returns the cluster's current server configuration.
func (c *Cluster) Configuration() (raft.Configuration, error) {
	f := c.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return raft.Configuration{}, err
	}
	return f.Configuration(), nil
}

// Shutdown stops Raft and closes every owned resource.
func (c *Cluster) Shutdown() error {
	if err := c.raft.Shutdown().Error(); err != nil {
		return err
	}
	if err := c.transport.Close(); err != nil {
		return err
	}
	if err := c.logStore.Close(); err != nil {
		return err
	}
	return c.pdb.Close()
}
