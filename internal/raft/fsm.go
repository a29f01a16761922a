package raft

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/hashicorp/raft"

	"github.com/user/benchctl/internal/benchmodel"
)

var metaKey = []byte("benchmark_meta")

// command is the wire format of one Raft log entry: the full next value
// of BenchmarkMetaData the proposer computed, guarded by an optimistic
// version check against the FSM's last-applied version. There is only
// ever one kind of mutation here, a whole-document compare-and-swap.
type command struct {
	Version uint64                       `json:"version"`
	Meta    benchmodel.BenchmarkMetaData `json:"meta"`
}

type fsmSnapshotValue struct {
	Version uint64                       `json:"version"`
	Meta    benchmodel.BenchmarkMetaData `json:"meta"`
}

// applyResult is the value FSM.Apply hands back through raft's
// ApplyFuture.Response(). It carries either the new snapshot or the
// reason the CAS failed.
type applyResult struct {
	snapshot fsmSnapshotValue
	err      error
}

// FSM implements raft.FSM over a single versioned BenchmarkMetaData
// document, persisted to Pebble as the sole store. There is no
// materialized view alongside it; the document has no query surface
// beyond what Read already returns whole.
type FSM struct {
	mu      sync.Mutex
	pdb     *pebble.DB
	noSync  bool
	version uint64
	meta    benchmodel.BenchmarkMetaData

	// onApply, when set, is invoked synchronously after each committed
	// Apply with the previous and new document. Store uses this to fan
	// commits out to its Subscribe listeners on every node that runs
	// this FSM, leader or follower alike.
	onApply func(prevVersion uint64, prev, curr benchmodel.BenchmarkMetaData)
}

// NewFSM creates an FSM backed by pdb, loading any persisted document.
func NewFSM(pdb *pebble.DB) *FSM {
	f := &FSM{pdb: pdb, meta: benchmodel.BenchmarkMetaData{Entries: map[string]benchmodel.Entry{}}}
	f.loadFromPebble()
	return f
}

// SetPebbleNoSync toggles Pebble fsync behavior for benchmark-mode runs
// where durability can be traded for throughput.
func (f *FSM) SetPebbleNoSync(noSync bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noSync = noSync
}

// SetOnApply registers the commit-fanout callback. Must be called before
// the raft instance starts applying entries.
func (f *FSM) SetOnApply(cb func(prevVersion uint64, prev, curr benchmodel.BenchmarkMetaData)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onApply = cb
}

func (f *FSM) loadFromPebble() {
	val, closer, err := f.pdb.Get(metaKey)
	if err != nil {
		return // pebble.ErrNotFound: start from an empty document
	}
	defer closer.Close()
	var snap fsmSnapshotValue
	if err := json.Unmarshal(val, &snap); err != nil {
		return
	}
	f.version = snap.Version
	f.meta = snap.Meta
}

func (f *FSM) writeOpts() *pebble.WriteOptions {
	if f.noSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

// Apply implements raft.FSM. It runs on every node as each log entry
// commits, leader and followers alike — this is what lets Store's
// Subscribe observe the same sequence of transitions cluster-wide rather
// than only on the leader.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return &applyResult{err: fmt.Errorf("decode command: %w", err)}
	}

	f.mu.Lock()
	if cmd.Version != f.version {
		prevVersion := f.version
		f.mu.Unlock()
		return &applyResult{err: benchmodel.NewError(benchmodel.ErrorCodeStaleState,
			fmt.Sprintf("expected version %d, fsm at %d", cmd.Version, prevVersion))}
	}
	prev := f.meta
	f.meta = cmd.Meta
	f.version++
	curr := f.meta
	version := f.version
	noSync := f.noSync
	cb := f.onApply
	f.mu.Unlock()

	payload, err := json.Marshal(fsmSnapshotValue{Version: version, Meta: curr})
	if err != nil {
		return &applyResult{err: fmt.Errorf("marshal document: %w", err)}
	}
	opts := pebble.Sync
	if noSync {
		opts = pebble.NoSync
	}
	if err := f.pdb.Set(metaKey, payload, opts); err != nil {
		return &applyResult{err: fmt.Errorf("persist document: %w", err)}
	}

	if cb != nil {
		cb(version-1, prev, curr)
	}
	return &applyResult{snapshot: fsmSnapshotValue{Version: version, Meta: curr}}
}

// Read returns the FSM's current, locally-applied document. On a
// follower this may lag the leader by whatever entries haven't yet
// replicated; statestore.Store.Read accepts that the same way memstore's
// Read only ever reflects locally-observed commits.
func (f *FSM) Read() (uint64, benchmodel.BenchmarkMetaData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.meta.Clone()
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fsmSnapshot{value: fsmSnapshotValue{Version: f.version, Meta: f.meta.Clone()}}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshotValue
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pdb.Set(metaKey, payload, f.writeOpts()); err != nil {
		return err
	}
	f.version = snap.Version
	f.meta = snap.Meta
	return nil
}

// PebbleDB returns the underlying Pebble database.
func (f *FSM) PebbleDB() *pebble.DB {
	return f.pdb
}
