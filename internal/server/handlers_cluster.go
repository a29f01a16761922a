package server

import (
	"net/http"
)

// ClusterJoiner is satisfied structurally by *raft.Cluster without this
// package importing internal/raft, the same decoupling internal/rpc
// uses for LeaderChecker: AddVoter is the only call the join handler
// needs.
type ClusterJoiner interface {
	AddVoter(nodeID, addr string) error
}

type joinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// SetClusterJoiner wires the raft cluster this process runs, if any, so
// POST /_cluster/join can add new voters. A nil joiner (the default)
// rejects join requests with 501 — most deployments of this package
// target a single fixed-membership cluster.
func (s *Server) SetClusterJoiner(j ClusterJoiner) {
	s.joiner = j
}

func (s *Server) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	if s.joiner == nil {
		writeError(w, http.StatusNotImplemented, "this node does not manage cluster membership", "NOT_SUPPORTED")
		return
	}
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	if req.NodeID == "" || req.Addr == "" {
		writeError(w, http.StatusBadRequest, "node_id and addr are required", "VALIDATION_ERROR")
		return
	}
	if err := s.joiner.AddVoter(req.NodeID, req.Addr); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "JOIN_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}
