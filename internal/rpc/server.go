// Package rpc is the C2 transport adapter: a lightweight line-protocol
// TCP server and client realizing transport.Transport across real
// network connections, grounded on the teacher's hand-rolled
// RESP-flavored ENQUEUE server (internal/rpc/server.go) — generalized
// from one command (ENQUEUE) to three: DEFINITION, STATUS, ABORT, plus
// PING for liveness.
package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/user/benchctl/internal/bench/transport"
)

// Server answers DEFINITION/STATUS/ABORT/PING requests from peer nodes
// against whichever of DefinitionSource/ResultsSource/AbortSink this
// node's CoordinatorService/ExecutorService implements. A node that is
// neither master nor holds cached results for some benchmark just
// returns -ERR for that one request; the caller's transport.Transport
// turns that into a benchmodel.Error.
type Server struct {
	defs    transport.DefinitionSource
	results transport.ResultsSource
	aborts  transport.AbortSink

	mu       sync.RWMutex
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
}

// New creates a Server. Any of defs/results/aborts may be nil when this
// node doesn't play that role (an executor-only node has no
// DefinitionSource, for instance).
func New(defs transport.DefinitionSource, results transport.ResultsSource, aborts transport.AbortSink) *Server {
	return &Server{defs: defs, results: results, aborts: aborts, quit: make(chan struct{})}
}

// Start begins listening on addr and accepting connections. Blocks
// until Shutdown closes the listener.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	slog.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				slog.Error("rpc accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the listener address. Only valid after Start has begun
// listening.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes the listener and waits for in-flight connections to
// drain.
func (s *Server) Shutdown() error {
	close(s.quit)
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		cmd, rest := splitFirst(line)
		switch strings.ToUpper(cmd) {
		case cmdPing:
			fmt.Fprintf(conn, "+PONG\r\n")

		case cmdDefinition:
			benchmarkID := rest
			s.replyDefinition(conn, benchmarkID)

		case cmdStatus:
			benchmarkID := rest
			s.replyStatus(conn, benchmarkID)

		case cmdAbort:
			benchmarkID := rest
			s.replyAbort(conn, benchmarkID)

		default:
			fmt.Fprintf(conn, "-ERR unknown command %q\r\n", cmd)
		}
	}
}

func (s *Server) replyDefinition(conn net.Conn, benchmarkID string) {
	if s.defs == nil {
		fmt.Fprintf(conn, "-ERR not master\r\n")
		return
	}
	def, ok := s.defs.Definition(benchmarkID)
	if !ok {
		fmt.Fprintf(conn, "-ERR unknown benchmark %q\r\n", benchmarkID)
		return
	}
	writeJSONReply(conn, def)
}

func (s *Server) replyStatus(conn net.Conn, benchmarkID string) {
	if s.results == nil {
		fmt.Fprintf(conn, "-ERR no results source on this node\r\n")
		return
	}
	res, ok := s.results.Results(benchmarkID)
	if !ok {
		fmt.Fprintf(conn, "-ERR results not cached for %q\r\n", benchmarkID)
		return
	}
	writeJSONReply(conn, res)
}

func (s *Server) replyAbort(conn net.Conn, benchmarkID string) {
	if s.aborts != nil {
		s.aborts.NudgeAbort(benchmarkID)
	}
	fmt.Fprintf(conn, "+OK\r\n")
}

func writeJSONReply(conn net.Conn, v any) {
	enc, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(conn, "-ERR %s\r\n", err.Error())
		return
	}
	fmt.Fprintf(conn, "+%s\r\n", enc)
}

// splitFirst splits s into its first space-delimited word and the rest.
func splitFirst(s string) (string, string) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
