// Package transport defines the C2 contract: addressable point-to-point
// request/response between the coordinator and executors, plus master
// discovery. The concrete wire adapter lives in internal/rpc; a
// same-process adapter for tests lives in transport/localbus.
package transport

import (
	"context"

	"github.com/user/benchctl/internal/benchmodel"
)

// Transport is the C2 contract.
type Transport interface {
	// IsMaster reports whether the local node is the elected master.
	IsMaster() bool

	// LocalNodeID returns the id transport uses to address this node.
	LocalNodeID() string

	// AliveNodes returns the ids of nodes transport currently believes
	// are reachable.
	AliveNodes() []string

	// OnNodeRemoved registers a callback invoked once per node when
	// transport determines it is no longer reachable. Used by
	// LivenessTracker.
	OnNodeRemoved(func(nodeID string))

	// FetchDefinition is called by an executor against the master to
	// retrieve the BenchmarkDefinition for benchmarkID. Returns
	// benchmodel.ErrorCodeUnknownBenchmark if the master has no record
	// of it (it was lost, e.g. after a failover).
	FetchDefinition(ctx context.Context, benchmarkID, nodeID string) (benchmodel.BenchmarkDefinition, error)

	// FetchResults is called by the master against an executor to
	// retrieve that node's cached per-competition results.
	FetchResults(ctx context.Context, benchmarkID, nodeID string) (benchmodel.PerNodeResults, error)

	// AbortLocal is a best-effort nudge from the master to an executor;
	// the executor is not required to act on it immediately, since the
	// authoritative abort signal is the state store transition.
	AbortLocal(ctx context.Context, benchmarkID, nodeID string) error
}

// DefinitionSource is implemented by whatever on the master node holds
// BenchmarkDefinitions, so the RPC adapter can serve FetchDefinition
// without depending on the coordinator package directly.
type DefinitionSource interface {
	Definition(benchmarkID string) (benchmodel.BenchmarkDefinition, bool)
}

// ResultsSource is implemented by whatever on an executor node holds
// cached per-node results, so the RPC adapter can serve FetchResults.
type ResultsSource interface {
	Results(benchmarkID string) (benchmodel.PerNodeResults, bool)
}

// AbortSink is implemented by whatever on an executor node should react
// to a best-effort abort nudge.
type AbortSink interface {
	NudgeAbort(benchmarkID string)
}
