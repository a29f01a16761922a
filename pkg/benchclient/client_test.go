package benchclient

import (
	"context"
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

func testClient(t *testing.T) *Client {
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

	srv := server.New(coord, ":0", nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		coord.Stop()
		for _, svc := range svcs {
			svc.Stop()
		}
	})
	return New(ts.URL)
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

func TestClientStart(t *testing.T) {
	c := testClient(t)
	ack, err := c.Start(context.Background(), basicDefinition("b1", 3, 2))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ack.BenchmarkID != "b1" {
		t.Errorf("BenchmarkID = %q, want b1", ack.BenchmarkID)
	}
	if ack.State != benchmodel.StateInitializing {
		t.Errorf("State = %q, want INITIALIZING", ack.State)
	}
}

func TestClientStartInsufficientExecutors(t *testing.T) {
	c := testClient(t)
	_, err := c.Start(context.Background(), basicDefinition("b1", 10, 2))
	if err == nil {
		t.Fatal("expected error for insufficient executors")
	}
}

func TestClientListAndAbort(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	if _, err := c.Start(ctx, basicDefinition("b1", 3, 50)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var statuses []benchmodel.Status
	for i := 0; i < 100; i++ {
		var err error
		statuses, err = c.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(statuses) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(statuses) != 1 || statuses[0].BenchmarkID != "b1" {
		t.Fatalf("statuses = %+v, want one entry for b1", statuses)
	}

	if err := c.Abort(ctx, "b1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
}

func TestClientStatusNotFound(t *testing.T) {
	c := testClient(t)
	_, err := c.Status(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing benchmark")
	}
}
