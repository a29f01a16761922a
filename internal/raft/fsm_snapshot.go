package raft

import (
	"encoding/json"

	"github.com/hashicorp/raft"
)

// fsmSnapshot implements raft.FSMSnapshot. The entire state is one
// small JSON document, so Persist just writes it out directly rather
// than checkpointing a larger on-disk store.
type fsmSnapshot struct {
	value fsmSnapshotValue
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	enc, err := json.Marshal(s.value)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(enc); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
