package searchexec_test

import (
	"context"
	"testing"

	"github.com/user/benchctl/internal/bench/searchexec"
	"github.com/user/benchctl/internal/benchmodel"
)

func TestFakeRunReturnsFixedResult(t *testing.T) {
	f := &searchexec.Fake{DurationMs: 12.5, Hits: 3}
	res, err := f.Run(context.Background(), benchmodel.SearchRequest{Name: "q1"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.DurationMs != 12.5 || res.Hits != 3 {
		t.Fatalf("Run = %+v", res)
	}
	if f.Calls() != 1 {
		t.Fatalf("Calls = %d, want 1", f.Calls())
	}
}

func TestFakeFailsAfterThreshold(t *testing.T) {
	f := &searchexec.Fake{FailAfter: 2}
	ctx := context.Background()
	req := benchmodel.SearchRequest{}

	if _, err := f.Run(ctx, req); err != nil {
		t.Fatalf("call 1: unexpected error %v", err)
	}
	if _, err := f.Run(ctx, req); err != nil {
		t.Fatalf("call 2: unexpected error %v", err)
	}
	if _, err := f.Run(ctx, req); err == nil {
		t.Fatal("call 3: expected simulated failure")
	}
}

func TestFakeClearCacheCountsCalls(t *testing.T) {
	f := &searchexec.Fake{}
	if err := f.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if f.ClearCalls() != 1 {
		t.Fatalf("ClearCalls = %d, want 1", f.ClearCalls())
	}
}
