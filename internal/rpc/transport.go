package rpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/benchctl/internal/benchmodel"
)

// LeaderChecker reports whether the local node currently holds Raft
// leadership and who does, satisfied by *raft.Cluster without this
// package importing internal/raft directly — the same small-interface
// decoupling the teacher uses for its scheduler's own IsLeader
// dependency (internal/scheduler/scheduler.go).
type LeaderChecker interface {
	IsLeader() bool
	LeaderID() string
}

const livenessFailThreshold = 3

// Transport implements transport.Transport over real TCP connections to
// a static address book of peers. FetchDefinition always dials whichever
// peer LeaderChecker currently reports as leader; FetchResults and
// AbortLocal dial the specific node named by the caller.
type Transport struct {
	localID string
	leader  LeaderChecker

	mu         sync.RWMutex
	clients    map[string]*Client
	alive      map[string]bool
	failCounts map[string]int
	onRemoved  []func(string)

	stopCh chan struct{}
}

// NewTransport builds a Transport. peers maps every node id (including
// the local one) to its rpc listen address.
func NewTransport(localID string, leader LeaderChecker, peers map[string]string) *Transport {
	t := &Transport{
		localID:    localID,
		leader:     leader,
		clients:    make(map[string]*Client, len(peers)),
		alive:      make(map[string]bool, len(peers)),
		failCounts: make(map[string]int, len(peers)),
		stopCh:     make(chan struct{}),
	}
	for id, addr := range peers {
		t.clients[id] = NewClient(addr)
		t.alive[id] = true
	}
	return t
}

func (t *Transport) IsMaster() bool      { return t.leader.IsLeader() }
func (t *Transport) LocalNodeID() string { return t.localID }

func (t *Transport) AliveNodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.alive))
	for id, ok := range t.alive {
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func (t *Transport) OnNodeRemoved(cb func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemoved = append(t.onRemoved, cb)
}

func (t *Transport) client(nodeID string) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[nodeID]
	return c, ok
}

func (t *Transport) FetchDefinition(ctx context.Context, benchmarkID, nodeID string) (benchmodel.BenchmarkDefinition, error) {
	leaderID := t.leader.LeaderID()
	if leaderID == "" {
		return benchmodel.BenchmarkDefinition{}, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "no leader known")
	}
	c, ok := t.client(leaderID)
	if !ok {
		return benchmodel.BenchmarkDefinition{}, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "leader unreachable")
	}
	return c.Definition(ctx, benchmarkID)
}

func (t *Transport) FetchResults(ctx context.Context, benchmarkID, nodeID string) (benchmodel.PerNodeResults, error) {
	c, ok := t.client(nodeID)
	if !ok {
		return benchmodel.PerNodeResults{}, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "unknown node "+nodeID)
	}
	return c.Status(ctx, benchmarkID)
}

func (t *Transport) AbortLocal(ctx context.Context, benchmarkID, nodeID string) error {
	c, ok := t.client(nodeID)
	if !ok {
		return benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "unknown node "+nodeID)
	}
	return c.Abort(ctx, benchmarkID)
}

// StartLivenessSweep pings every remote peer every interval, marking a
// node dead (and firing OnNodeRemoved) after livenessFailThreshold
// consecutive failures, and alive again on the next success — mirroring
// how LivenessTracker itself only ever learns about death one-way per
// benchmark but the underlying transport-level reachability can recover.
func (t *Transport) StartLivenessSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.sweepOnce(ctx)
			}
		}
	}()
}

func (t *Transport) sweepOnce(ctx context.Context) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		if id == t.localID {
			continue
		}
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	for _, id := range ids {
		c, ok := t.client(id)
		if !ok {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Ping(pingCtx)
		cancel()
		t.recordPing(id, err == nil)
	}
}

func (t *Transport) recordPing(nodeID string, ok bool) {
	t.mu.Lock()
	if ok {
		t.failCounts[nodeID] = 0
		wasDead := !t.alive[nodeID]
		t.alive[nodeID] = true
		t.mu.Unlock()
		if wasDead {
			slog.Info("rpc peer reachable again", "node_id", nodeID)
		}
		return
	}

	t.failCounts[nodeID]++
	becameDead := t.failCounts[nodeID] >= livenessFailThreshold && t.alive[nodeID]
	if becameDead {
		t.alive[nodeID] = false
	}
	cbs := append([]func(string){}, t.onRemoved...)
	t.mu.Unlock()

	if becameDead {
		slog.Warn("rpc peer unreachable, marking dead", "node_id", nodeID)
		for _, cb := range cbs {
			cb(nodeID)
		}
	}
}

// Stop ends the liveness sweep and closes every client connection.
func (t *Transport) Stop() {
	close(t.stopCh)
	t.mu.RLock()
	clients := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
