package relay

import (
	"testing"
	"time"
)

func testClient() *Client {
	return &Client{id: "test", send: make(chan []byte, 8), done: make(chan struct{})}
}

func TestRegistry_JoinReturnsPeer(t *testing.T) {
	r := NewRegistry()
	desktop := testClient()
	phone := testClient()

	peer, replaced := r.Join("s1", RoleDesktop, desktop)
	if peer != nil || replaced != nil {
		t.Fatal("first join should find no peer and replace nothing")
	}

	peer, replaced = r.Join("s1", RoleCapture, phone)
	if peer != desktop {
		t.Error("capture join should return the desktop peer")
	}
	if replaced != nil {
		t.Error("capture join should replace nothing")
	}
}

func TestRegistry_JoinOrderIndependent(t *testing.T) {
	r := NewRegistry()
	desktop := testClient()
	phone := testClient()

	// Phone first, desktop second.
	if peer, _ := r.Join("s2", RoleCapture, phone); peer != nil {
		t.Fatal("first join should find no peer")
	}
	if peer, _ := r.Join("s2", RoleDesktop, desktop); peer != phone {
		t.Error("desktop join should return the phone peer")
	}
}

func TestRegistry_CaptureRejoinReplaces(t *testing.T) {
	r := NewRegistry()
	desktop := testClient()
	oldPhone := testClient()
	newPhone := testClient()

	r.Join("s1", RoleDesktop, desktop)
	r.Join("s1", RoleCapture, oldPhone)

	peer, replaced := r.Join("s1", RoleCapture, newPhone)
	if peer != desktop {
		t.Error("rejoin should still return the desktop peer")
	}
	if replaced != oldPhone {
		t.Error("rejoin should report the replaced connection")
	}

	// The replaced connection no longer belongs to the session.
	if _, ok := r.Leave(oldPhone); ok {
		t.Error("replaced connection should have no membership left")
	}
	if !r.Member(newPhone, "s1") {
		t.Error("new phone should be a member")
	}
}

func TestRegistry_LeaveReturnsRemainingPeer(t *testing.T) {
	r := NewRegistry()
	desktop := testClient()
	phone := testClient()

	r.Join("s1", RoleDesktop, desktop)
	r.Join("s1", RoleCapture, phone)

	dep, ok := r.Leave(phone)
	if !ok {
		t.Fatal("leave should find the membership")
	}
	if dep.SessionID != "s1" || dep.Role != RoleCapture || dep.Peer != desktop {
		t.Errorf("departure = %+v, want session s1, role capture, peer desktop", dep)
	}

	// Session still alive with one member.
	if r.Len() != 1 {
		t.Errorf("sessions = %d, want 1", r.Len())
	}

	// Last member out destroys the session.
	dep, ok = r.Leave(desktop)
	if !ok || dep.Peer != nil {
		t.Errorf("last leave = %+v, %v; want no peer", dep, ok)
	}
	if r.Len() != 0 {
		t.Errorf("sessions = %d, want 0", r.Len())
	}
}

func TestRegistry_LeaveUnknownConn(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Leave(testClient()); ok {
		t.Error("leave of unknown connection should report no membership")
	}
}

func TestRegistry_ExpireIdleSessions(t *testing.T) {
	r := NewRegistry()
	desktop := testClient()
	phone := testClient()
	r.Join("stale", RoleDesktop, desktop)
	r.Join("stale", RoleCapture, phone)
	r.Join("fresh", RoleDesktop, testClient())

	// Nothing is idle long enough yet.
	if evicted := r.Expire(time.Hour); len(evicted) != 0 {
		t.Fatalf("evicted %d connections, want 0", len(evicted))
	}

	r.sessions["stale"].lastActive = time.Now().Add(-2 * time.Hour)

	evicted := r.Expire(time.Hour)
	if len(evicted) != 2 {
		t.Fatalf("evicted %d connections, want 2", len(evicted))
	}
	if r.Len() != 1 {
		t.Errorf("sessions = %d, want the fresh one left", r.Len())
	}
	if _, ok := r.Leave(desktop); ok {
		t.Error("evicted connection should have no membership left")
	}
}

func TestRegistry_TouchDefersExpiry(t *testing.T) {
	r := NewRegistry()
	desktop := testClient()
	r.Join("s1", RoleDesktop, desktop)
	r.sessions["s1"].lastActive = time.Now().Add(-2 * time.Hour)

	// Relay activity resets the idle clock; the sweep must spare the session.
	r.Touch(desktop)
	if evicted := r.Expire(time.Hour); len(evicted) != 0 {
		t.Fatalf("evicted %d connections, want 0 after activity", len(evicted))
	}
	if !r.Member(desktop, "s1") {
		t.Error("active session should survive the sweep")
	}

	// Touch of an unregistered connection is a no-op.
	r.Touch(testClient())
}
