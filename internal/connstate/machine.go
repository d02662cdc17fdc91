// Package connstate tracks the lifecycle of a single relay transport
// connection. Both peers share it.
//
// States: connecting → connected → disconnected, or connecting → error.
// Error is terminal: recovery means minting a fresh rendezvous token and a new
// connection, never retrying in place.
package connstate

import "sync"

// State is a connection lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

var legal = map[State][]State{
	StateConnecting: {StateConnected, StateError},
	StateConnected:  {StateDisconnected},
}

// Machine is a thread-safe connection state machine. The zero value is not
// usable; use New.
type Machine struct {
	mu       sync.Mutex
	state    State
	err      error
	onChange func(State)
}

// New returns a machine in the connecting state. onChange, if non-nil, is
// called after every successful transition (without the lock held order
// guarantee across goroutines; callers needing ordering should transition
// from one goroutine).
func New(onChange func(State)) *Machine {
	return &Machine{state: StateConnecting, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the handshake error recorded by Fail, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Connect marks the handshake as succeeded. Returns false if the machine was
// not in connecting.
func (m *Machine) Connect() bool {
	return m.transition(StateConnected)
}

// Fail marks the handshake as failed. Terminal.
func (m *Machine) Fail(err error) bool {
	m.mu.Lock()
	if !allowed(m.state, StateError) {
		m.mu.Unlock()
		return false
	}
	m.state = StateError
	m.err = err
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(StateError)
	}
	return true
}

// Disconnect records transport loss or explicit close. Terminal.
func (m *Machine) Disconnect() bool {
	return m.transition(StateDisconnected)
}

// Terminal reports whether no further transitions are possible.
func (m *Machine) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(legal[m.state]) == 0
}

func (m *Machine) transition(to State) bool {
	m.mu.Lock()
	if !allowed(m.state, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(to)
	}
	return true
}

func allowed(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}
