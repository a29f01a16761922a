// Package benchmodel holds the data model shared by the coordinator,
// executors, and the replicated benchmark metadata document. Nothing in
// here talks to the network or to storage; it is pure types plus the
// encode/decode rules the persisted document follows.
package benchmodel

import "time"

// GlobalState is the benchmark-wide lifecycle state stored in
// BenchmarkMetaData.Entry.State.
type GlobalState string

const (
	StateInitializing GlobalState = "INITIALIZING"
	StateRunning      GlobalState = "RUNNING"
	StatePaused       GlobalState = "PAUSED"
	StateResuming     GlobalState = "RESUMING"
	StateCompleted    GlobalState = "COMPLETED"
	StateFailed       GlobalState = "FAILED"
	StateAborted      GlobalState = "ABORTED"
)

// Terminal reports whether a GlobalState is a final state that the entry
// may be deleted from.
func (s GlobalState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// NodeState is the per-executor-node lifecycle state stored in
// BenchmarkMetaData.Entry.NodeStateMap.
type NodeState string

const (
	NodeInitializing NodeState = "INITIALIZING"
	NodeReady        NodeState = "READY"
	NodeRunning      NodeState = "RUNNING"
	NodePaused       NodeState = "PAUSED"
	NodeCompleted    NodeState = "COMPLETED"
	NodeFailed       NodeState = "FAILED"
	NodeAborted      NodeState = "ABORTED"
)

// Terminal reports whether a NodeState will not transition further on its
// own (it may still be overwritten by an abort nudge, which is a no-op if
// already terminal).
func (s NodeState) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeAborted:
		return true
	default:
		return false
	}
}

// Settings are the recognized benchmark-wide execution options. Per
// spec: iterations, concurrency, multiplier, warmup, allowCacheClearing.
type Settings struct {
	Iterations         int  `json:"iterations"`
	Concurrency        int  `json:"concurrency"`
	Multiplier         int  `json:"multiplier"`
	Warmup             bool `json:"warmup"`
	AllowCacheClearing bool `json:"allow_cache_clearing"`
}

// DefaultPercentiles is used when a Competition does not specify its own.
var DefaultPercentiles = []float64{10, 25, 50, 75, 90, 99}

// SearchRequest is an opaque request forwarded to the SearchExecutor
// adapter. Body is left as a raw document since this subsystem never
// interprets query syntax.
type SearchRequest struct {
	Name string `json:"name"`
	Body []byte `json:"body"`
}

// Competition is a named group of search requests with its own
// iteration/concurrency settings.
type Competition struct {
	Name                string          `json:"name"`
	Concurrency         int             `json:"concurrency"`
	Multiplier          int             `json:"multiplier"`
	Iterations          int             `json:"iterations"`
	Warmup              bool            `json:"warmup"`
	Requests            []SearchRequest `json:"requests"`
	Percentiles         []float64       `json:"percentiles,omitempty"`
	TargetThroughput    float64         `json:"target_throughput,omitempty"`
	AllowCacheClearing  bool            `json:"allow_cache_clearing,omitempty"`
}

// EffectivePercentiles returns c.Percentiles, falling back to the cluster
// default when unset.
func (c Competition) EffectivePercentiles() []float64 {
	if len(c.Percentiles) > 0 {
		return c.Percentiles
	}
	return DefaultPercentiles
}

// BenchmarkDefinition is immutable from the moment it is created by the
// client. It is fetched by each assigned node exactly once via
// Transport.FetchDefinition.
type BenchmarkDefinition struct {
	BenchmarkID      string        `json:"benchmark_id"`
	Competitions     []Competition `json:"competitions"`
	NumExecutorNodes int           `json:"num_executor_nodes"`
	Settings         Settings      `json:"settings"`
	ClientRequestID  string        `json:"client_request_id,omitempty"`
}

// Entry is one record in the replicated BenchmarkMetaData document.
// Field names match the persisted wire format exactly (spec §6).
type Entry struct {
	BenchmarkID     string               `json:"benchmark_id"`
	State           GlobalState          `json:"state"`
	NodeStateMap    map[string]NodeState `json:"node_state_map"`
	ConcreteNodes   []string             `json:"concrete_nodes"`
	ClientRequestID string               `json:"client_request_id,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	ErrorMessages   []string             `json:"error_messages,omitempty"`
}

// Clone returns a deep copy so callers (mutators in particular) never
// share map/slice backing storage with the value read from the store.
func (e Entry) Clone() Entry {
	out := e
	if e.NodeStateMap != nil {
		out.NodeStateMap = make(map[string]NodeState, len(e.NodeStateMap))
		for k, v := range e.NodeStateMap {
			out.NodeStateMap[k] = v
		}
	}
	out.ConcreteNodes = append([]string(nil), e.ConcreteNodes...)
	out.ErrorMessages = append([]string(nil), e.ErrorMessages...)
	return out
}

// BenchmarkMetaData is the single field of cluster state this subsystem
// owns: a map from benchmarkId to Entry.
type BenchmarkMetaData struct {
	Entries map[string]Entry `json:"entries"`
}

// Clone returns a deep copy of the metadata document.
func (m BenchmarkMetaData) Clone() BenchmarkMetaData {
	out := BenchmarkMetaData{Entries: make(map[string]Entry, len(m.Entries))}
	for k, v := range m.Entries {
		out.Entries[k] = v.Clone()
	}
	return out
}
