package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/benchctl/internal/bench/coordinator"
	"github.com/user/benchctl/internal/bench/executor"
	"github.com/user/benchctl/internal/bench/liveness"
	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/bench/statestore/memstore"
	"github.com/user/benchctl/internal/bench/transport/localbus"
	"github.com/user/benchctl/internal/benchmodel"
	"github.com/user/benchctl/internal/server"
)

// newTestServer wires one master coordinator with three executor nodes
// on a shared localbus, the same fixture coordinator_test.go uses,
// fronted by a Server with no auth gate.
func newTestServer(t *testing.T) (*server.Server, func()) {
	t.Helper()
	store := memstore.New()
	bus := localbus.NewBus()
	lt := liveness.New()

	coord := coordinator.New(store, nil, lt)
	masterNode := localbus.NewNode(bus, "master", coord, nil, nil)
	coord.SetTransport(masterNode)
	bus.SetMaster("master")

	svcs := make([]*executor.Service, 0, 3)
	for _, id := range []string{"n1", "n2", "n3"} {
		fake := &searchexec.Fake{DurationMs: 1, Hits: 1}
		svc := executor.New(id, store, nil, fake)
		node := localbus.NewNode(bus, id, nil, svc, svc)
		svc.SetTransport(node)
		svcs = append(svcs, svc)
	}

	coord.Start()
	for _, svc := range svcs {
		svc.Start()
	}

	srv := server.New(coord, "127.0.0.1:0", nil)
	cleanup := func() {
		coord.Stop()
		for _, svc := range svcs {
			svc.Stop()
		}
	}
	return srv, cleanup
}

func basicDefinition(id string, n, iterations int) benchmodel.BenchmarkDefinition {
	return benchmodel.BenchmarkDefinition{
		BenchmarkID:      id,
		NumExecutorNodes: n,
		Settings:         benchmodel.Settings{Iterations: iterations, Concurrency: 1, Multiplier: 1},
		Competitions: []benchmodel.Competition{
			{Name: "c1", Iterations: iterations, Requests: []benchmodel.SearchRequest{{Name: "q1"}}},
		},
	}
}

func TestHandleStartAccepted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(basicDefinition("b1", 3, 2))
	req := httptest.NewRequest(http.MethodPost, "/_bench", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandleStartRejectsMalformedJSON(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/_bench", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleStartInsufficientExecutors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(basicDefinition("b1", 10, 2))
	req := httptest.NewRequest(http.MethodPost, "/_bench", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandleGetOneNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/_bench/missing", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleListAndAbort(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	startBody, _ := json.Marshal(basicDefinition("b1", 3, 50))
	startReq := httptest.NewRequest(http.MethodPost, "/_bench", bytes.NewReader(startBody))
	startRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(startRR, startReq)
	if startRR.Code != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", startRR.Code, startRR.Body.String())
	}

	var listed []benchmodel.Status
	for i := 0; i < 100; i++ {
		listRR := httptest.NewRecorder()
		srv.Handler().ServeHTTP(listRR, httptest.NewRequest(http.MethodGet, "/_bench", nil))
		_ = json.Unmarshal(listRR.Body.Bytes(), &listed)
		if len(listed) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(listed) != 1 || listed[0].BenchmarkID != "b1" {
		t.Fatalf("listed = %+v, want one entry for b1", listed)
	}

	abortRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(abortRR, httptest.NewRequest(http.MethodPost, "/_bench/abort/b1", nil))
	if abortRR.Code != http.StatusOK {
		t.Fatalf("abort status = %d, body = %s", abortRR.Code, abortRR.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("benchctl_benchmarks_started_total")) {
		t.Fatalf("metrics body missing benchmarks_started_total: %s", rr.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
