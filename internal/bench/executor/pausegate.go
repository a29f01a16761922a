package executor

import (
	"context"
	"sync"
)

// pauseGate is the "semaphore used by pause/resume" from spec §3's
// PerExecutorState: a closeable gate a worker waits on before each
// iteration. Open (not paused) is represented by a closed channel so
// Wait returns immediately; Pause swaps in a fresh, open (unclosed)
// channel that blocks every waiter until the next Resume closes it.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

// Wait blocks until the gate is open or ctx is done.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause closes off the gate for future waiters. Idempotent.
func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// Resume reopens the gate, releasing every blocked waiter. Idempotent.
func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}
