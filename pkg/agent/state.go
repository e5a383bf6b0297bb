package agent

import (
	"fmt"
	"sync"
)

// CallState is the current phase of an outbound call's lifecycle.
type CallState int

const (
	StateDialing CallState = iota
	StateRingingOrConnecting
	StateAwaitingHumanPickup
	StateIdentityUnverified
	StateIdentityVerified
	StateNegotiating
	StateConcluding
	StateTerminated
)

func (s CallState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateRingingOrConnecting:
		return "ringing_or_connecting"
	case StateAwaitingHumanPickup:
		return "awaiting_human_pickup"
	case StateIdentityUnverified:
		return "identity_unverified"
	case StateIdentityVerified:
		return "identity_verified"
	case StateNegotiating:
		return "negotiating"
	case StateConcluding:
		return "concluding"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("call_state(%d)", int(s))
	}
}

// forwardTransitions is the happy-path transition table. Teardown states
// are handled separately: Concluding and Terminated are reachable from
// every non-terminal state, because call teardown must always be possible.
var forwardTransitions = map[CallState][]CallState{
	StateDialing:             {StateRingingOrConnecting},
	StateRingingOrConnecting: {StateAwaitingHumanPickup},
	StateAwaitingHumanPickup: {StateIdentityUnverified},
	StateIdentityUnverified:  {StateIdentityVerified},
	StateIdentityVerified:    {StateNegotiating},
	StateNegotiating:         {},
	StateConcluding:          {},
	StateTerminated:          {},
}

// StateMachine tracks one call's lifecycle state. Single-owner: only the
// call's controlling task drives transitions.
type StateMachine struct {
	room string
	obs  Observer

	mu    sync.Mutex
	state CallState
}

// NewStateMachine creates a machine in StateDialing.
func NewStateMachine(room string, obs Observer) *StateMachine {
	if obs == nil {
		obs = NopObserver{}
	}
	return &StateMachine{room: room, obs: obs, state: StateDialing}
}

// State returns the current state.
func (m *StateMachine) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TransitionTo moves the call to next. Terminated is absorbing: once
// there, every further transition is silently ignored, so repeated
// teardown paths (double end_call, hangup after answering machine) stay
// idempotent. Any other invalid transition is an error.
func (m *StateMachine) TransitionTo(next CallState) error {
	m.mu.Lock()
	current := m.state
	if current == StateTerminated {
		m.mu.Unlock()
		return nil
	}
	if !transitionAllowed(current, next) {
		m.mu.Unlock()
		return fmt.Errorf("invalid call state transition %s -> %s", current, next)
	}
	m.state = next
	m.mu.Unlock()

	m.obs.StateChanged(m.room, current, next)
	return nil
}

func transitionAllowed(from, to CallState) bool {
	// Teardown is reachable from any non-terminal state.
	if to == StateConcluding || to == StateTerminated {
		return true
	}
	for _, allowed := range forwardTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
