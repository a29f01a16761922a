// Package benchclient is a thin HTTP client for the benchctl API,
// grounded on the teacher's own pkg/client (doRequestWithContext's
// marshal/send/decode shape), generalized from job-queue endpoints to
// the six benchmark-lifecycle endpoints this subsystem exposes.
package benchclient

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

// Client is a thin HTTP wrapper around one benchctl server's /_bench*
// surface.
type Client struct {
	URL         string
	BearerToken string
	HTTPClient  *http.Client
}

// New creates a Client pointed at url (e.g. "http://localhost:8080").
func New(url string) *Client {
	return &Client{
		URL: url,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StartAck is the acceptance response for Start: StartBenchmark accepts
// asynchronously, so this only confirms the entry was durably written.
type StartAck struct {
	BenchmarkID string                 `json:"benchmark_id"`
	State       benchmodel.GlobalState `json:"state"`
}

// Start submits def for execution. It returns as soon as the server has
// accepted it; callers poll Status/List to observe progress.
func (c *Client) Start(ctx context.Context, def benchmodel.BenchmarkDefinition) (StartAck, error) {
	var ack StartAck
	err := c.doRequest(ctx, "POST", "/_bench", def, &ack)
	return ack, err
}

// List returns the status of every benchmark whose id matches any of
// patterns (glob syntax; no patterns means every benchmark).
func (c *Client) List(ctx context.Context, patterns ...string) ([]benchmodel.Status, error) {
	path := "/_bench"
	for i, p := range patterns {
		sep := "?"
		if i > 0 {
			sep = "&"
		}
		path += sep + "pattern=" + p
	}
	var statuses []benchmodel.Status
	err := c.doRequest(ctx, "GET", path, nil, &statuses)
	return statuses, err
}

// Status returns a single benchmark's status.
func (c *Client) Status(ctx context.Context, benchmarkID string) (benchmodel.Status, error) {
	var st benchmodel.Status
	err := c.doRequest(ctx, "GET", "/_bench/"+benchmarkID, nil, &st)
	return st, err
}

// Pause pauses a running benchmark.
func (c *Client) Pause(ctx context.Context, benchmarkID string) error {
	return c.doRequest(ctx, "POST", "/_bench/pause/"+benchmarkID, nil, nil)
}

// Resume resumes a paused benchmark.
func (c *Client) Resume(ctx context.Context, benchmarkID string) error {
	return c.doRequest(ctx, "POST", "/_bench/resume/"+benchmarkID, nil, nil)
}

// Abort aborts a benchmark.
func (c *Client) Abort(ctx context.Context, benchmarkID string) error {
	return c.doRequest(ctx, "POST", "/_bench/abort/"+benchmarkID, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		json.Unmarshal(data, &apiErr)
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Error)
	}

	if result != nil && len(data) > 0 {
		return json.Unmarshal(data, result)
	}
	return nil
}
