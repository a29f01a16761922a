package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/user/benchctl/internal/bench/statestore"
	"github.com/user/benchctl/internal/benchmodel"
)

var tracer = otel.Tracer("github.com/user/benchctl/internal/raft")

const maxUpdateRetries = 5

type subscriber struct {
	ch chan [2]statestore.Snapshot
}

// Store adapts a Cluster into the statestore.Store contract: the
// production, replicated C1 backend. Update proposes the full next
// document as a single Raft log entry guarded by the FSM's optimistic
// version check; Read serves this node's last-applied snapshot; Subscribe
// fans out every committed Apply observed on this node — leader or
// follower — to its own buffered-channel dispatch goroutine, the same
// per-subscriber delivery idiom memstore.Store uses.
type Store struct {
	cluster *Cluster

	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// New wraps cluster as a statestore.Store.
func New(cluster *Cluster) *Store {
	s := &Store{cluster: cluster, subs: map[int]*subscriber{}}
	cluster.fsm.SetOnApply(s.dispatch)
	return s
}

func (s *Store) dispatch(prevVersion uint64, prev, curr benchmodel.BenchmarkMetaData) {
	prevSnap := statestore.Snapshot{Version: prevVersion, Meta: prev}
	currSnap := statestore.Snapshot{Version: prevVersion + 1, Meta: curr}

	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.ch <- [2]statestore.Snapshot{prevSnap, currSnap}
	}
}

func (s *Store) Read(ctx context.Context) (statestore.Snapshot, error) {
	version, meta := s.cluster.fsm.Read()
	return statestore.Snapshot{Version: version, Meta: meta}, nil
}

// Update refuses outright when this node is not the Raft leader, the
// same way the coordinator itself refuses non-master callers.
func (s *Store) Update(ctx context.Context, mutate statestore.MutatorFunc) (statestore.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "raft.Store.Update")
	defer span.End()

	if !s.cluster.IsLeader() {
		err := benchmodel.NewError(benchmodel.ErrorCodeNotMaster, "this node is not the raft leader")
		span.SetStatus(codes.Error, err.Error())
		return statestore.Snapshot{}, err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		span.SetAttributes(attribute.Int("raft.update.attempt", attempt))
		version, meta := s.cluster.fsm.Read()
		nextMeta, err := mutate(meta)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return statestore.Snapshot{}, err
		}

		payload, err := json.Marshal(command{Version: version, Meta: nextMeta})
		if err != nil {
			err = fmt.Errorf("marshal command: %w", err)
			span.SetStatus(codes.Error, err.Error())
			return statestore.Snapshot{}, err
		}

		future := s.cluster.raft.Apply(payload, s.cluster.config.ApplyTimeout)
		if err := future.Error(); err != nil {
			err = fmt.Errorf("raft apply: %w", err)
			span.SetStatus(codes.Error, err.Error())
			return statestore.Snapshot{}, err
		}
		res, ok := future.Response().(*applyResult)
		if !ok {
			err := fmt.Errorf("unexpected apply response type %T", future.Response())
			span.SetStatus(codes.Error, err.Error())
			return statestore.Snapshot{}, err
		}
		if res.err != nil {
			if benchmodel.IsStaleState(res.err) {
				continue // lost the optimistic race against a concurrent Apply; recompute and retry
			}
			span.SetStatus(codes.Error, res.err.Error())
			return statestore.Snapshot{}, res.err
		}
		return statestore.Snapshot{Version: res.snapshot.Version, Meta: res.snapshot.Meta}, nil
	}
	err := benchmodel.NewError(benchmodel.ErrorCodeStaleState, "update lost the CAS race too many times")
	span.SetStatus(codes.Error, err.Error())
	return statestore.Snapshot{}, err
}

func (s *Store) Subscribe(l statestore.Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	sub := &subscriber{ch: make(chan [2]statestore.Snapshot, 256)}
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
