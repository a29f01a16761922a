package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/user/benchctl/internal/benchmodel"
)

var clientTracer = otel.Tracer("github.com/user/benchctl/internal/rpc")

// Client is a single-peer connection that reconnects lazily after a
// failed call, mirroring how the teacher's own clients treat a
// lightweight TCP line connection as disposable rather than pooled.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

// NewClient returns a Client that dials addr on first use.
func NewClient(addr string) *Client {
	return &Client{addr: addr, dialTimeout: 5 * time.Second}
}

func (c *Client) ensureConn(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, c.rd, nil
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, nil, benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, fmt.Sprintf("dial %s: %v", c.addr, err))
	}
	c.conn = conn
	c.rd = bufio.NewReader(conn)
	return conn, c.rd, nil
}

func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
}

// call sends one line and reads the single-line reply. On any I/O error
// the connection is dropped so the next call reconnects.
func (c *Client) call(ctx context.Context, line string) (string, error) {
	ctx, span := clientTracer.Start(ctx, "rpc.Client.call")
	span.SetAttributes(attribute.String("rpc.peer", c.addr), attribute.String("rpc.command", strings.SplitN(line, " ", 2)[0]))
	defer span.End()

	conn, rd, err := c.ensureConn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.dialTimeout))
	}

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		c.drop()
		err = benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, err.Error())
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	resp, err := rd.ReadString('\n')
	if err != nil {
		c.drop()
		err = benchmodel.NewError(benchmodel.ErrorCodeTransportFailure, err.Error())
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	resp = strings.TrimRight(resp, "\r\n")
	if strings.HasPrefix(resp, "-") {
		msg := strings.TrimPrefix(resp, "-")
		code := benchmodel.ErrorCodeTransportFailure
		if strings.Contains(msg, "unknown benchmark") {
			code = benchmodel.ErrorCodeUnknownBenchmark
		}
		err := benchmodel.NewError(code, msg)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return strings.TrimPrefix(resp, "+"), nil
}

// Ping checks liveness; used by the periodic liveness sweep in Transport.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, cmdPing)
	return err
}

// Definition fetches a BenchmarkDefinition from the master.
func (c *Client) Definition(ctx context.Context, benchmarkID string) (benchmodel.BenchmarkDefinition, error) {
	raw, err := c.call(ctx, cmdDefinition+" "+benchmarkID)
	if err != nil {
		return benchmodel.BenchmarkDefinition{}, err
	}
	var def benchmodel.BenchmarkDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return benchmodel.BenchmarkDefinition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// Status fetches an executor's cached PerNodeResults.
func (c *Client) Status(ctx context.Context, benchmarkID string) (benchmodel.PerNodeResults, error) {
	raw, err := c.call(ctx, cmdStatus+" "+benchmarkID)
	if err != nil {
		return benchmodel.PerNodeResults{}, err
	}
	var res benchmodel.PerNodeResults
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return benchmodel.PerNodeResults{}, fmt.Errorf("decode results: %w", err)
	}
	return res, nil
}

// Abort sends a best-effort abort nudge.
func (c *Client) Abort(ctx context.Context, benchmarkID string) error {
	_, err := c.call(ctx, cmdAbort+" "+benchmarkID)
	return err
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rd = nil
	return err
}
