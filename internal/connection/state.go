package connection

import "sync/atomic"

// State represents the manager connection state. Exactly one value holds at
// any instant; transitions go through the stateManager.
type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateManager serializes state transitions with atomic CAS.
type stateManager struct {
	state uint32
}

func newStateManager() *stateManager {
	return &stateManager{state: uint32(StateDisconnected)}
}

// get returns the current state.
func (sm *stateManager) get() State {
	return State(atomic.LoadUint32(&sm.state))
}

// set unconditionally sets the state.
func (sm *stateManager) set(s State) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// transition attempts to move from one expected state to another.
// Returns true on success.
func (sm *stateManager) transition(from, to State) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

// transitionFrom attempts the transition from any of the expected states.
func (sm *stateManager) transitionFrom(to State, from ...State) bool {
	for _, f := range from {
		if sm.transition(f, to) {
			return true
		}
	}
	return false
}

// isConnected returns true while the manager holds a live transport.
func (sm *stateManager) isConnected() bool {
	return sm.get() == StateConnected
}
