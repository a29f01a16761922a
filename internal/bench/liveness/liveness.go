// Package liveness implements C6: per-(benchmarkID, nodeID) alive bits
// that the coordinator consults before running any quorum predicate.
// Once cleared, a bit is never set back — a reconnecting node with the
// same id for the same benchmark stays dead for that run (spec §4.6).
package liveness

import "sync"

type key struct {
	benchmarkID string
	nodeID      string
}

// Tracker is grounded on the teacher's sync.Map-backed bookkeeping
// idiom (cluster.go's pendingCache/fetchReserved), generalized from a
// per-queue cache to a per-(benchmark,node) alive bit.
type Tracker struct {
	mu    sync.Mutex
	alive map[key]bool
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{alive: map[key]bool{}}
}

// Register marks nodeID alive for benchmarkID. Call once per node when
// a benchmark is assigned.
func (t *Tracker) Register(benchmarkID, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{benchmarkID, nodeID}
	if _, ok := t.alive[k]; !ok {
		t.alive[k] = true
	}
}

// IsAlive reports the current alive bit. A node never registered for
// this benchmark is reported dead.
func (t *Tracker) IsAlive(benchmarkID, nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive[key{benchmarkID, nodeID}]
}

// MarkDead clears the bit. Idempotent; never re-sets a cleared bit.
func (t *Tracker) MarkDead(benchmarkID, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive[key{benchmarkID, nodeID}] = false
}

// NodeRemoved is the callback to register with transport.Transport's
// OnNodeRemoved: it clears the bit for every benchmark that currently
// references nodeID.
func (t *Tracker) NodeRemoved(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.alive {
		if k.nodeID == nodeID {
			t.alive[k] = false
		}
	}
}

// Forget drops all bookkeeping for a benchmark once its entry is
// deleted, so the map does not grow without bound across a long-lived
// coordinator process.
func (t *Tracker) Forget(benchmarkID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.alive {
		if k.benchmarkID == benchmarkID {
			delete(t.alive, k)
		}
	}
}

// AliveAmong returns the subset of nodeIDs that are alive for
// benchmarkID.
func (t *Tracker) AliveAmong(benchmarkID string, nodeIDs []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if t.alive[key{benchmarkID, id}] {
			out = append(out, id)
		}
	}
	return out
}
