package rpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/user/benchctl/internal/bench/transport"
	"github.com/user/benchctl/internal/benchmodel"
)

type fakeDefs struct {
	defs map[string]benchmodel.BenchmarkDefinition
}

func (f *fakeDefs) Definition(id string) (benchmodel.BenchmarkDefinition, bool) {
	d, ok := f.defs[id]
	return d, ok
}

type fakeResults struct {
	results map[string]benchmodel.PerNodeResults
}

func (f *fakeResults) Results(id string) (benchmodel.PerNodeResults, bool) {
	r, ok := f.results[id]
	return r, ok
}

type fakeAborts struct {
	nudged []string
}

func (f *fakeAborts) NudgeAbort(id string) { f.nudged = append(f.nudged, id) }

func setupTest(t *testing.T, defs transport.DefinitionSource, results transport.ResultsSource, aborts transport.AbortSink) *Server {
	t.Helper()
	srv := New(defs, results, aborts)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start("127.0.0.1:0") }()

	for i := 0; i < 1000 && srv.Addr() == nil; i++ {
		time.Sleep(time.Millisecond)
	}
	if srv.Addr() == nil {
		t.Fatal("server never started listening")
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendRecv(t *testing.T, conn net.Conn, cmd string) string {
	t.Helper()
	_, _ = fmt.Fprintf(conn, "%s\n", cmd)
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response for %q: %v", cmd, scanner.Err())
	}
	return scanner.Text()
}

func TestPing(t *testing.T) {
	srv := setupTest(t, nil, nil, nil)
	conn := dial(t, srv)

	resp := sendRecv(t, conn, "PING")
	if resp != "+PONG" {
		t.Fatalf("expected +PONG, got %q", resp)
	}
}

func TestDefinition(t *testing.T) {
	defs := &fakeDefs{defs: map[string]benchmodel.BenchmarkDefinition{
		"b1": {BenchmarkID: "b1", NumExecutorNodes: 3},
	}}
	srv := setupTest(t, defs, nil, nil)
	conn := dial(t, srv)

	resp := sendRecv(t, conn, "DEFINITION b1")
	if resp[0] != '+' {
		t.Fatalf("expected +json, got %q", resp)
	}

	resp = sendRecv(t, conn, "DEFINITION missing")
	if resp[:4] != "-ERR" {
		t.Fatalf("expected -ERR for unknown benchmark, got %q", resp)
	}
}

func TestStatus(t *testing.T) {
	results := &fakeResults{results: map[string]benchmodel.PerNodeResults{
		"b1": {NodeID: "n1"},
	}}
	srv := setupTest(t, nil, results, nil)
	conn := dial(t, srv)

	resp := sendRecv(t, conn, "STATUS b1")
	if resp[0] != '+' {
		t.Fatalf("expected +json, got %q", resp)
	}
}

func TestAbort(t *testing.T) {
	aborts := &fakeAborts{}
	srv := setupTest(t, nil, nil, aborts)
	conn := dial(t, srv)

	resp := sendRecv(t, conn, "ABORT b1")
	if resp != "+OK" {
		t.Fatalf("expected +OK, got %q", resp)
	}
	if len(aborts.nudged) != 1 || aborts.nudged[0] != "b1" {
		t.Fatalf("aborts.nudged = %v, want [b1]", aborts.nudged)
	}
}

func TestUnknownCommand(t *testing.T) {
	srv := setupTest(t, nil, nil, nil)
	conn := dial(t, srv)

	resp := sendRecv(t, conn, "FOOBAR")
	if resp[:4] != "-ERR" {
		t.Fatalf("expected -ERR, got %q", resp)
	}
}

func TestClientRoundTrip(t *testing.T) {
	defs := &fakeDefs{defs: map[string]benchmodel.BenchmarkDefinition{
		"b1": {BenchmarkID: "b1", NumExecutorNodes: 2},
	}}
	results := &fakeResults{results: map[string]benchmodel.PerNodeResults{
		"b1": {NodeID: "n1"},
	}}
	aborts := &fakeAborts{}
	srv := setupTest(t, defs, results, aborts)
	client := NewClient(srv.Addr().String())
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	def, err := client.Definition(ctx, "b1")
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	if def.NumExecutorNodes != 2 {
		t.Fatalf("NumExecutorNodes = %d, want 2", def.NumExecutorNodes)
	}

	if _, err := client.Status(ctx, "b1"); err != nil {
		t.Fatalf("Status: %v", err)
	}

	if err := client.Abort(ctx, "b1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if len(aborts.nudged) != 1 {
		t.Fatalf("aborts.nudged = %v, want one entry", aborts.nudged)
	}

	_, err = client.Definition(ctx, "missing")
	if err == nil {
		t.Fatal("expected error for unknown benchmark")
	}
	if !benchmodel.IsUnknownBenchmark(err) {
		t.Fatalf("err = %v, want UnknownBenchmark so executor.go's retry-skip branch fires over this transport", err)
	}
}
