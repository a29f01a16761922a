// Package searchexec implements C3: the adapter each executor node uses
// to fire one SearchRequest against the search cluster it is benchmarking.
// The HTTP implementation is grounded on the teacher's pkg/client HTTP
// wrapper idiom (doRequestWithContext's marshal/send/decode shape),
// generalized from a JSON-API client to an opaque-body fire-and-time
// adapter since this subsystem never interprets query syntax.
package searchexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/benchctl/internal/benchmodel"
)

// Result is what one SearchExecutor.Run call returns: enough to feed one
// benchmodel.IterationResult.
type Result struct {
	DurationMs float64
	Hits       int64
}

// FatalError marks a SearchExecutor error as fatal to the whole
// competition on the calling node (spec §4.4: a scripted-query compile
// failure is the canonical example). Any other error returned by Run is
// treated by the executor as a per-query, non-fatal error.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// SearchExecutor is the seam between the executor's phase machine and the
// concrete search cluster under test.
type SearchExecutor interface {
	// Run issues req once and reports its latency and hit count. Callers
	// time the call themselves is not required; implementations own
	// their own timing so transport setup/teardown cost is excluded
	// consistently across backends.
	Run(ctx context.Context, req benchmodel.SearchRequest) (Result, error)

	// ClearCache is invoked between iterations when the competition sets
	// AllowCacheClearing. Implementations that cannot clear a remote
	// cache should return nil (a no-op), never an error, since cache
	// clearing is best-effort by spec.
	ClearCache(ctx context.Context) error
}

// HTTPSearchExecutor fires each SearchRequest as a POST against a fixed
// base URL, treating req.Body as an opaque JSON document.
type HTTPSearchExecutor struct {
	BaseURL    string
	ClearPath  string
	HTTPClient *http.Client
}

// NewHTTPSearchExecutor builds an executor pointed at baseURL. clearPath
// may be empty, in which case ClearCache is a no-op.
func NewHTTPSearchExecutor(baseURL, clearPath string) *HTTPSearchExecutor {
	return &HTTPSearchExecutor{
		BaseURL:   baseURL,
		ClearPath: clearPath,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type hitCounter struct {
	Hits *int64 `json:"hits"`
}

func (h *HTTPSearchExecutor) Run(ctx context.Context, req benchmodel.SearchRequest) (Result, error) {
	target := h.BaseURL
	if req.Name != "" {
		target = h.BaseURL + "/" + req.Name
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return Result{}, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTPClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("search cluster returned %d: %s", resp.StatusCode, string(data))
	}

	var counted hitCounter
	hits := int64(0)
	if err := json.Unmarshal(data, &counted); err == nil && counted.Hits != nil {
		hits = *counted.Hits
	}

	return Result{
		DurationMs: float64(elapsed.Microseconds()) / 1000.0,
		Hits:       hits,
	}, nil
}

func (h *HTTPSearchExecutor) ClearCache(ctx context.Context) error {
	if h.ClearPath == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+h.ClearPath, nil)
	if err != nil {
		return err
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("clear cache request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}
