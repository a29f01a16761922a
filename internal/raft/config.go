package raft

import "time"

// ClusterConfig configures one node of the raft-backed StateStore (the
// production C1 backend). There is no materialized-view mirror or
// apply-batching knobs here: Update proposes one full document per call
// rather than a flood of small ops needing batching.
type ClusterConfig struct {
	NodeID        string // Unique node identifier
	DataDir       string // Base directory for pebble + raft log data
	RaftBind      string // Raft transport bind address (e.g. ":9000")
	RaftAdvertise string // Advertised Raft address peers should dial
	RaftStore     string // Raft log/stable backend: bolt, badger, or pebble
	RaftNoSync    bool   // Disable Raft log fsync (unsafe; benchmark only)
	PebbleNoSync  bool   // Disable Pebble fsync on the document store (unsafe; benchmark only)

	Bootstrap bool   // Bootstrap as a single-node cluster
	JoinAddr  string // Address of an existing leader to join

	ApplyTimeout      time.Duration // Timeout for raft.Apply
	SnapshotThreshold uint64        // Log entries before a new snapshot is taken
	SnapshotInterval  time.Duration // How often to check the snapshot threshold
}

// DefaultClusterConfig returns a ClusterConfig with sensible defaults.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		NodeID:            "node-1",
		DataDir:           "data",
		RaftBind:          ":9000",
		RaftStore:         "bolt",
		Bootstrap:         true,
		ApplyTimeout:      10 * time.Second,
		SnapshotThreshold: 2048,
		SnapshotInterval:  time.Minute,
	}
}
