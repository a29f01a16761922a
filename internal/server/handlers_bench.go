package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/user/benchctl/internal/bench/coordinator"
	"github.com/user/benchctl/internal/benchmodel"
)

// startAck is what handleStart returns. StartBenchmark kicks execution
// off asynchronously; the caller observes progress via GET /_bench/{name}
// or /_bench, the same way the teacher's own handleEnqueue returns as
// soon as a job is accepted rather than waiting on it to run.
type startAck struct {
	BenchmarkID     string                 `json:"benchmark_id"`
	ClientRequestID string                 `json:"client_request_id"`
	State           benchmodel.GlobalState `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var def benchmodel.BenchmarkDefinition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	if strings.TrimSpace(def.BenchmarkID) == "" {
		writeError(w, http.StatusBadRequest, "benchmark_id is required", "VALIDATION_ERROR")
		return
	}
	if def.NumExecutorNodes <= 0 {
		writeError(w, http.StatusBadRequest, "num_executor_nodes must be positive", "VALIDATION_ERROR")
		return
	}
	if strings.TrimSpace(def.ClientRequestID) == "" {
		// A caller that never names a request id still needs one to
		// reconcile against after a MasterLost error (spec §7).
		def.ClientRequestID = uuid.NewString()
	}

	_, err := s.coord.StartBenchmark(r.Context(), def)
	if err != nil {
		writeBenchError(w, err)
		return
	}
	s.metrics.benchmarksStarted.Inc()
	writeJSON(w, http.StatusOK, startAck{
		BenchmarkID:     def.BenchmarkID,
		ClientRequestID: def.ClientRequestID,
		State:           benchmodel.StateInitializing,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	patterns := r.URL.Query()["pattern"]
	statuses, err := s.coord.ListBenchmarks(r.Context(), patterns)
	if err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleGetOne(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	statuses, err := s.coord.ListBenchmarks(r.Context(), []string{name})
	if err != nil {
		writeBenchError(w, err)
		return
	}
	if len(statuses) == 0 {
		writeError(w, http.StatusNotFound, "benchmark not found", "UNKNOWN_BENCHMARK")
		return
	}
	writeJSON(w, http.StatusOK, statuses[0])
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	outcomes, err := s.coord.PauseBenchmark(r.Context(), []string{name})
	if err != nil {
		writeBenchError(w, err)
		return
	}
	writeOutcomes(w, outcomes)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	outcomes, err := s.coord.ResumeBenchmark(r.Context(), []string{name})
	if err != nil {
		writeBenchError(w, err)
		return
	}
	writeOutcomes(w, outcomes)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	outcomes, err := s.coord.AbortBenchmark(r.Context(), []string{name})
	if err != nil {
		writeBenchError(w, err)
		return
	}
	s.metrics.benchmarksAborted.Inc()
	writeOutcomes(w, outcomes)
}

func writeOutcomes(w http.ResponseWriter, outcomes []coordinator.Outcome) {
	responses := make([]any, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			responses = append(responses, map[string]string{"error": o.Err.Error()})
			continue
		}
		responses = append(responses, o.Response)
	}
	writeJSON(w, http.StatusOK, responses)
}

// writeBenchError maps a benchmodel.Error's Code to the HTTP status
// spec §6 assigns it; anything unclassified falls back to 500.
func writeBenchError(w http.ResponseWriter, err error) {
	switch {
	case benchmodel.IsInsufficientExecutors(err):
		writeError(w, http.StatusConflict, err.Error(), "INSUFFICIENT_EXECUTORS")
	case benchmodel.IsUnknownBenchmark(err):
		writeError(w, http.StatusNotFound, err.Error(), "UNKNOWN_BENCHMARK")
	case benchmodel.IsNotMaster(err):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "NOT_MASTER")
	case benchmodel.IsInvalidState(err):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_STATE")
	case benchmodel.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, err.Error(), "TIMEOUT")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
