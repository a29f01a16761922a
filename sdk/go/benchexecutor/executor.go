// Package benchexecutor is the SDK a benchmark-executor process embeds:
// it wires a raft-backed StateStore, the RPC transport, and an
// ExecutorService around a caller-supplied searchexec.SearchExecutor,
// the same way cmd/benchctl's server subcommand wires an executor role,
// factored out for embedding in a caller's own process. Grounded on the
// teacher's sdk/go/worker Client — that SDK hides Enqueue/Fetch/Ack
// long-polling and heartbeat behind a few calls; this one hides
// FetchDefinition pull and PING-based liveness behind New/Stop.
package benchexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/user/benchctl/internal/bench/executor"
	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/raft"
	"github.com/user/benchctl/internal/rpc"
)

// Config is everything a caller must supply to run one executor node.
type Config struct {
	NodeID   string
	DataDir  string
	RaftBind string
	RaftJoin string // HTTP address of the cluster's current leader

	RPCBindAddr string
	// Peers maps every node id in the cluster, including this one, to
	// its RPC address. The coordinator's id must be present.
	Peers map[string]string

	// Search is the caller's own SearchExecutor implementation — the
	// one seam this SDK does not provide a default for.
	Search searchexec.SearchExecutor

	LivenessPingInterval time.Duration
}

// Node is one running executor process.
type Node struct {
	nodeID    string
	cluster   *raft.Cluster
	svc       *executor.Service
	transport *rpc.Transport
	rpcServer *rpc.Server

	cancelSweep context.CancelFunc
}

// New joins (or, if RaftJoin is empty, bootstraps) the raft cluster,
// constructs the ExecutorService around cfg.Search, and starts the RPC
// server. It does not block.
func New(cfg Config) (*Node, error) {
	if cfg.Search == nil {
		return nil, fmt.Errorf("benchexecutor: Config.Search is required")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("benchexecutor: Config.NodeID is required")
	}
	pingInterval := cfg.LivenessPingInterval
	if pingInterval <= 0 {
		pingInterval = 2 * time.Second
	}

	cluster, err := raft.NewCluster(raft.ClusterConfig{
		NodeID:    cfg.NodeID,
		DataDir:   cfg.DataDir,
		RaftBind:  cfg.RaftBind,
		Bootstrap: cfg.RaftJoin == "",
	})
	if err != nil {
		return nil, fmt.Errorf("benchexecutor: start raft cluster: %w", err)
	}

	store := raft.New(cluster)
	svc := executor.New(cfg.NodeID, store, nil, cfg.Search)

	peers := cfg.Peers
	if peers == nil {
		peers = map[string]string{}
	}
	if _, ok := peers[cfg.NodeID]; !ok {
		peers[cfg.NodeID] = cfg.RPCBindAddr
	}
	transport := rpc.NewTransport(cfg.NodeID, cluster, peers)
	svc.SetTransport(transport)

	rpcServer := rpc.New(nil, svc, svc)

	n := &Node{nodeID: cfg.NodeID, cluster: cluster, svc: svc, transport: transport, rpcServer: rpcServer}

	go func() {
		if err := rpcServer.Start(cfg.RPCBindAddr); err != nil {
			_ = err // Start only returns after Shutdown or a listen failure; surfaced via Node.Stop's caller logging their own listener if they need it.
		}
	}()

	sweepCtx, cancel := context.WithCancel(context.Background())
	n.cancelSweep = cancel
	go transport.StartLivenessSweep(sweepCtx, pingInterval)

	if cfg.RaftJoin != "" {
		if err := cluster.JoinCluster(cfg.RaftJoin); err != nil {
			n.Stop()
			return nil, fmt.Errorf("benchexecutor: join cluster: %w", err)
		}
	}

	svc.Start()
	return n, nil
}

// Stop tears down the executor loop, liveness sweep, RPC transport
// clients, RPC server, and raft node, in that order.
func (n *Node) Stop() error {
	n.svc.Stop()
	n.cancelSweep()
	transport := n.transport
	transport.Stop()
	_ = n.rpcServer.Shutdown()
	return n.cluster.Shutdown()
}

// NodeID returns the id this executor registered with the cluster as.
func (n *Node) NodeID() string { return n.nodeID }
