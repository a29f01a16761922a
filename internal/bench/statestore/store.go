// Package statestore defines the contract the coordinator and executors
// use to read and mutate the replicated BenchmarkMetaData document (C1
// in the design). Any linearizable, change-notifying store is an
// acceptable implementation; see the raft and memstore packages.
package statestore

import (
	"context"

	"github.com/user/benchctl/internal/benchmodel"
)

// Snapshot is a versioned read of BenchmarkMetaData. Version increases
// monotonically on every successful Update.
type Snapshot struct {
	Version uint64
	Meta    benchmodel.BenchmarkMetaData
}

// MutatorFunc transforms the current metadata document into the next
// one. It must be a pure function of its input: the store may invoke it
// more than once if the underlying CAS loses a race.
type MutatorFunc func(benchmodel.BenchmarkMetaData) (benchmodel.BenchmarkMetaData, error)

// Listener receives (previous, current) snapshot pairs in commit order
// for a single subscriber. Implementations MUST tolerate being invoked
// again with an unchanged state (idempotent re-delivery).
type Listener func(prev, curr Snapshot)

// Store is the C1 contract.
type Store interface {
	// Read returns the current BenchmarkMetaData. An empty document (no
	// entries) is a valid, non-error result.
	Read(ctx context.Context) (Snapshot, error)

	// Update applies mutate atomically via compare-and-swap on Version.
	// Implementations retry internally on a lost CAS race, a bounded
	// number of times and without delay between attempts; a race that
	// outlasts those attempts is returned as a StaleState error.
	Update(ctx context.Context, mutate MutatorFunc) (Snapshot, error)

	// Subscribe registers a listener that receives every committed
	// transition from the moment of subscription onward, in commit
	// order. The returned func unsubscribes.
	Subscribe(l Listener) (unsubscribe func())
}
