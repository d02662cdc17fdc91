package relay

import (
	"sync"
	"time"
)

// Role identifies which side of a pairing a connection plays.
type Role string

const (
	RoleDesktop Role = "desktop"
	RoleCapture Role = "capture"
)

// session is the pairing unit: at most one desktop and one capture connection
// under a rendezvous token. Sessions exist implicitly — created on first join,
// removed when the last member leaves.
type session struct {
	id         string
	desktop    *Client
	capture    *Client
	lastActive time.Time
}

func (s *session) empty() bool { return s.desktop == nil && s.capture == nil }

// Departure describes the result of removing a connection from its session.
type Departure struct {
	SessionID string
	Role      Role
	Peer      *Client // remaining member, nil if the session emptied
}

// Registry is the relay's membership bookkeeping. It is internal to the relay
// boundary; all mutation goes through Join and Leave so same-session updates
// are serialized under one mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	byConn   map[*Client]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		byConn:   make(map[*Client]string),
	}
}

// Join registers c under sessionID for role, overwriting any prior connection
// for that role (a phone reconnect reuses its token without renegotiating).
// Returns the peer connection of the other role if present, so the caller can
// notify it synchronously, and the connection this join replaced, if any.
func (r *Registry) Join(sessionID string, role Role, c *Client) (peer, replaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID}
		r.sessions[sessionID] = s
	}
	s.lastActive = time.Now()

	switch role {
	case RoleDesktop:
		replaced = s.desktop
		s.desktop = c
		peer = s.capture
	case RoleCapture:
		replaced = s.capture
		s.capture = c
		peer = s.desktop
	}

	if replaced == c {
		replaced = nil
	}
	if replaced != nil {
		delete(r.byConn, replaced)
	}
	r.byConn[c] = sessionID
	return peer, replaced
}

// Leave removes every session entry bound to c. A connection belongs to at
// most one session, so at most one departure results.
func (r *Registry) Leave(c *Client) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byConn[c]
	if !ok {
		return Departure{}, false
	}
	delete(r.byConn, c)

	s := r.sessions[sessionID]
	if s == nil {
		return Departure{}, false
	}

	dep := Departure{SessionID: sessionID}
	if s.desktop == c {
		s.desktop = nil
		dep.Role = RoleDesktop
		dep.Peer = s.capture
	} else if s.capture == c {
		s.capture = nil
		dep.Role = RoleCapture
		dep.Peer = s.desktop
	}

	if s.empty() {
		delete(r.sessions, sessionID)
	}
	return dep, true
}

// Member reports whether c currently belongs to sessionID.
func (r *Registry) Member(c *Client, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConn[c] == sessionID
}

// Touch refreshes the activity timestamp of c's session so the expiry sweep
// spares sessions that are still relaying.
func (r *Registry) Touch(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[r.byConn[c]]; s != nil {
		s.lastActive = time.Now()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Expire removes sessions idle for longer than maxIdle and returns their
// members so the caller can notify and close them. The relay protocol itself
// never expires a session; this sweep bounds the growth of abandoned tokens.
// Joins and relayed submissions refresh the idle clock, so a session in
// active use outlives any TTL.
func (r *Registry) Expire(maxIdle time.Duration) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	var evicted []*Client
	for id, s := range r.sessions {
		if s.lastActive.After(cutoff) {
			continue
		}
		if s.desktop != nil {
			evicted = append(evicted, s.desktop)
			delete(r.byConn, s.desktop)
		}
		if s.capture != nil {
			evicted = append(evicted, s.capture)
			delete(r.byConn, s.capture)
		}
		delete(r.sessions, id)
	}
	return evicted
}
