package benchmodel

// validGlobalTransitions encodes spec invariant 1: the allowed global
// state diagram. The coordinator's Abort/Pause/Resume write paths call
// ValidGlobalTransition before committing a client-requested move,
// rejecting one outside the diagram; the event loop's own advances
// (onReady, onFinished, onResumed, onPaused, ...) never attempt an
// out-of-diagram move by construction, so only the client-facing
// writers need the check.
var validGlobalTransitions = map[GlobalState]map[GlobalState]bool{
	StateInitializing: {StateRunning: true, StateFailed: true},
	StateRunning:       {StatePaused: true, StateCompleted: true, StateFailed: true, StateAborted: true},
	StatePaused:        {StateResuming: true, StateCompleted: true, StateFailed: true, StateAborted: true},
	StateResuming:      {StateRunning: true, StateCompleted: true, StateFailed: true, StateAborted: true},
}

// ValidGlobalTransition reports whether moving an entry from `from` to
// `to` respects the diagram in spec §3 invariant 1.
func ValidGlobalTransition(from, to GlobalState) bool {
	if from == to {
		return true // re-observation must be idempotent/safe
	}
	next, ok := validGlobalTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// AliveRunningNodeStates are the NodeState values an alive node may hold while
// the global state is RUNNING (spec invariant 2).
var AliveRunningNodeStates = map[NodeState]bool{
	NodeRunning:   true,
	NodePaused:    true,
	NodeCompleted: true,
	NodeFailed:    true,
	NodeAborted:   true,
}
