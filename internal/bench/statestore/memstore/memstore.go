// Package memstore is an in-memory statestore.Store used by unit tests
// and by single-process integration tests that drive a coordinator and
// several executors without a real cluster. It implements exactly the
// statestore.Store contract, including commit-order delivery per
// subscriber, so tests written against it exercise the same invariants
// a raft-backed deployment would.
package memstore

import (
	"context"
	"sync"

	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/benchmodel"
)

type subscriber struct {
	id int
	ch chan [2]statestore.Snapshot
}

// Store is a mutex-guarded, versioned BenchmarkMetaData document with
// commit-ordered listener fanout, each listener running on its own
// dispatch goroutine.
type Store struct {
	mu   sync.Mutex
	cur  statestore.Snapshot
	subs map[int]*subscriber
	next int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		cur:  statestore.Snapshot{Version: 0, Meta: benchmodel.BenchmarkMetaData{Entries: map[string]benchmodel.Entry{}}},
		subs: map[int]*subscriber{},
	}
}

func (s *Store) Read(ctx context.Context) (statestore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.cur), nil
}

func (s *Store) Update(ctx context.Context, mutate statestore.MutatorFunc) (statestore.Snapshot, error) {
	s.mu.Lock()
	prev := cloneSnapshot(s.cur)
	nextMeta, err := mutate(prev.Meta.Clone())
	if err != nil {
		s.mu.Unlock()
		return statestore.Snapshot{}, err
	}
	s.cur = statestore.Snapshot{Version: prev.Version + 1, Meta: nextMeta}
	curr := cloneSnapshot(s.cur)

	// Enqueue to every subscriber's channel while still holding s.mu, so
	// two concurrent Updates cannot interleave their sends out of commit
	// order (spec §4.1: events arrive in commit order per subscriber).
	// Each subscriber's own dispatch goroutine then drains and invokes
	// its listener outside the lock, so a slow listener cannot block
	// concurrent Reads/Updates.
	for _, sub := range s.subs {
		sub.ch <- [2]statestore.Snapshot{prev, curr}
	}
	s.mu.Unlock()

	return curr, nil
}

func (s *Store) Subscribe(l statestore.Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	sub := &subscriber{id: id, ch: make(chan [2]statestore.Snapshot, 256)}
	s.subs[id] = sub
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case pair := <-sub.ch:
				l(pair[0], pair[1])
			case <-done:
				return
			}
		}
	}()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(done)
	}
}

func cloneSnapshot(s statestore.Snapshot) statestore.Snapshot {
	return statestore.Snapshot{Version: s.Version, Meta: s.Meta.Clone()}
}
