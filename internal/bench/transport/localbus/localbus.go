// Package localbus is an in-process transport.Transport used by tests
// that drive a coordinator and several executors inside one goroutine
// tree without touching the network. It is grounded on the teacher's
// practice of standing up a whole multi-node cluster inside a single
// test process for deterministic timing.
package localbus

import (
	"context"
	"sync"

	"github.com/user/benchctl/internal/bench/transport"
	"github.com/user/benchctl/internal/benchmodel"
)

// Bus is a shared switchboard every node's *Node attaches to.
type Bus struct {
	mu        sync.RWMutex
	masterID  string
	nodes     map[string]*Node
	onRemoved []func(string)
}

// NewBus creates an empty bus with no registered nodes and no master.
func NewBus() *Bus {
	return &Bus{nodes: map[string]*Node{}}
}

// SetMaster designates which registered node id is the elected master.
func (b *Bus) SetMaster(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.masterID = nodeID
}

// RemoveNode simulates the given node going unreachable: it is
// unregistered and every OnNodeRemoved callback fires.
func (b *Bus) RemoveNode(nodeID string) {
	b.mu.Lock()
	delete(b.nodes, nodeID)
	cbs := append([]func(string){}, b.onRemoved...)
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(nodeID)
	}
}

// Node is the transport.Transport view of the bus from one node's
// perspective.
type Node struct {
	bus     *Bus
	nodeID  string
	defs    transport.DefinitionSource
	results transport.ResultsSource
	aborts  transport.AbortSink
}

// NewNode registers a node on the bus and returns its Transport view.
func NewNode(bus *Bus, nodeID string, defs transport.DefinitionSource, results transport.ResultsSource, aborts transport.AbortSink) *Node {
	n := &Node{bus: bus, nodeID: nodeID, defs: defs, results: results, aborts: aborts}
	bus.mu.Lock()
	bus.nodes[nodeID] = n
	bus.mu.Unlock()
	return n
}

func (n *Node) IsMaster() bool {
	n.bus.mu.RLock()
	defer n.bus.mu.RUnlock()
	return n.bus.masterID == n.nodeID
}

func (n *Node) LocalNodeID() string { return n.nodeID }

// AliveNodes lists the registered nodes that can run benchmarks: a node
// registered without a ResultsSource (such as a coordinator-only master)
// is reachable on the bus but is not listed.
func (n *Node) AliveNodes() []string {
	n.bus.mu.RLock()
	defer n.bus.mu.RUnlock()
	out := make([]string, 0, len(n.bus.nodes))
	for id, nd := range n.bus.nodes {
		if nd.results == nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (n *Node) OnNodeRemoved(cb func(string)) {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	n.bus.onRemoved = append(n.bus.onRemoved, cb)
}

func (n *Node) FetchDefinition(ctx context.Context, benchmarkID, nodeID string) (benchmodel.BenchmarkDefinition, error) {
	n.bus.mu.RLock()
	target, ok := n.bus.nodes[n.bus.masterID]
	n.bus.mu.RUnlock()
	if !ok || target.defs == nil {
		return benchmodel.BenchmarkDefinition{}, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "no master reachable")
	}
	select {
	case <-ctx.Done():
		return benchmodel.BenchmarkDefinition{}, benchmodel.ErrCanceled
	default:
	}
	def, ok := target.defs.Definition(benchmarkID)
	if !ok {
		return benchmodel.BenchmarkDefinition{}, benchmodel.NewError(benchmodel.ErrorCodeUnknownBenchmark, "unknown benchmark")
	}
	return def, nil
}

func (n *Node) FetchResults(ctx context.Context, benchmarkID, nodeID string) (benchmodel.PerNodeResults, error) {
	n.bus.mu.RLock()
	target, ok := n.bus.nodes[nodeID]
	n.bus.mu.RUnlock()
	if !ok || target.results == nil {
		return benchmodel.PerNodeResults{}, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "node unreachable")
	}
	select {
	case <-ctx.Done():
		return benchmodel.PerNodeResults{}, benchmodel.ErrCanceled
	default:
	}
	res, ok := target.results.Results(benchmarkID)
	if !ok {
		return benchmodel.PerNodeResults{}, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "results not cached")
	}
	return res, nil
}

func (n *Node) AbortLocal(ctx context.Context, benchmarkID, nodeID string) error {
	n.bus.mu.RLock()
	target, ok := n.bus.nodes[nodeID]
	n.bus.mu.RUnlock()
	if !ok {
		return benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, "node unreachable")
	}
	if target.aborts != nil {
		target.aborts.NudgeAbort(benchmarkID)
	}
	return nil
}
