package coordinator

import (
	"context"
	"sync"

	"github.com/user/benchctl/internal/benchmodel"
)

// Outcome is what every public CoordinatorService call eventually hands
// back to its caller: either a Response or an error (benchmodel.Error),
// never both.
type Outcome struct {
	Response benchmodel.Response
	Err      error
}

// TerminalStateWaiter collapses the source's family of abort/pause/resume
// listener classes into one generic, count-down-once promise (spec §9
// design note). Each kind of terminal event builds its own payload and
// calls signalOnce; only the first caller wins.
type TerminalStateWaiter[T any] struct {
	mu     sync.Mutex
	fired  bool
	result T
	ch     chan struct{}
}

// NewTerminalStateWaiter returns an unfired waiter.
func NewTerminalStateWaiter[T any]() *TerminalStateWaiter[T] {
	return &TerminalStateWaiter[T]{ch: make(chan struct{})}
}

// signalOnce delivers payload to every current and future Wait call. The
// first call wins; later calls are no-ops, preserving the "at most once"
// property spec §8 requires of every terminal handler.
func (w *TerminalStateWaiter[T]) signalOnce(payload T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired {
		return false
	}
	w.fired = true
	w.result = payload
	close(w.ch)
	return true
}

// Wait blocks until signalOnce fires or ctx is done.
func (w *TerminalStateWaiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-w.ch:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
