package relay

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/panelbase/comicscan/internal/config"
	"github.com/panelbase/comicscan/pkg/protocol"
)

func newTestRelay(t *testing.T) string {
	t.Helper()
	s := NewServer(config.ServerConfig{
		SessionTTL: config.Duration(time.Hour),
		RateRPM:    0, // disabled for tests
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// dialPeer connects and completes the connect handshake.
func dialPeer(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	resp := rpc(t, conn, protocol.MethodConnect, json.RawMessage(`{"protocol":1}`))
	if !resp.OK {
		t.Fatalf("connect rejected: %+v", resp.Error)
	}
	return conn
}

// rpc sends a request and reads frames until its response arrives, dropping
// events on the floor.
func rpc(t *testing.T, conn *websocket.Conn, method string, params json.RawMessage) *protocol.ResponseFrame {
	t.Helper()
	id := uuid.NewString()
	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("send %s: %v", method, err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read response to %s: %v", method, err)
		}
		frameType, _ := protocol.ParseFrameType(data)
		if frameType != protocol.FrameTypeResponse {
			continue
		}
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("parse response: %v", err)
		}
		if resp.ID == id {
			return &resp
		}
	}
}

// readEvent reads frames until an event arrives.
func readEvent(t *testing.T, conn *websocket.Conn) *protocol.EventFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		frameType, _ := protocol.ParseFrameType(data)
		if frameType != protocol.FrameTypeEvent {
			continue
		}
		var ev protocol.EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("parse event: %v", err)
		}
		return &ev
	}
}

func joinParams(sessionID string) json.RawMessage {
	p, _ := json.Marshal(protocol.SessionParams{SessionID: sessionID})
	return p
}

func TestRelay_DesktopFirstGetsPhoneConnected(t *testing.T) {
	wsURL := newTestRelay(t)

	desktop := dialPeer(t, wsURL)
	resp := rpc(t, desktop, protocol.MethodJoinSession, joinParams("abc-123"))
	if !resp.OK {
		t.Fatalf("join-session failed: %+v", resp.Error)
	}

	phone := dialPeer(t, wsURL)
	resp = rpc(t, phone, protocol.MethodPhoneConnect, joinParams("abc-123"))
	if !resp.OK {
		t.Fatalf("phone-connect failed: %+v", resp.Error)
	}

	// The joiner learns about the peer from the response.
	var result protocol.JoinResult
	raw, _ := json.Marshal(resp.Payload)
	json.Unmarshal(raw, &result)
	if !result.PeerPresent {
		t.Error("phone join response should report the desktop present")
	}

	// The peer that joined first gets the one phone-connected event.
	ev := readEvent(t, desktop)
	if ev.Event != protocol.EventPhoneConnected {
		t.Errorf("event = %q, want %q", ev.Event, protocol.EventPhoneConnected)
	}
}

func TestRelay_PhoneFirstGetsPhoneConnected(t *testing.T) {
	wsURL := newTestRelay(t)

	phone := dialPeer(t, wsURL)
	if resp := rpc(t, phone, protocol.MethodPhoneConnect, joinParams("s9")); !resp.OK {
		t.Fatalf("phone-connect failed: %+v", resp.Error)
	}

	desktop := dialPeer(t, wsURL)
	if resp := rpc(t, desktop, protocol.MethodJoinSession, joinParams("s9")); !resp.OK {
		t.Fatalf("join-session failed: %+v", resp.Error)
	}

	ev := readEvent(t, phone)
	if ev.Event != protocol.EventPhoneConnected {
		t.Errorf("event = %q, want %q", ev.Event, protocol.EventPhoneConnected)
	}
}

func TestRelay_ItemPassThroughByteIdentical(t *testing.T) {
	wsURL := newTestRelay(t)

	desktop := dialPeer(t, wsURL)
	rpc(t, desktop, protocol.MethodJoinSession, joinParams("s1"))
	phone := dialPeer(t, wsURL)
	rpc(t, phone, protocol.MethodPhoneConnect, joinParams("s1"))
	readEvent(t, desktop) // phone-connected

	// Quirky spacing and field order must survive the round trip.
	item := json.RawMessage(`{"upc":"00001234567811",  "series":"X-Force","extra":[1,2,3]}`)
	params, _ := json.Marshal(protocol.ItemParams{SessionID: "s1", Item: item})
	if resp := rpc(t, phone, protocol.MethodBarcodeScanned, params); !resp.OK {
		t.Fatalf("barcode-scanned failed: %+v", resp.Error)
	}

	ev := readEvent(t, desktop)
	if ev.Event != protocol.EventComicReceived {
		t.Fatalf("event = %q, want %q", ev.Event, protocol.EventComicReceived)
	}
	if !bytes.Equal(ev.Payload, item) {
		t.Errorf("payload = %s, want byte-identical %s", ev.Payload, item)
	}
}

func TestRelay_DuplicateSignalReachesPhone(t *testing.T) {
	wsURL := newTestRelay(t)

	desktop := dialPeer(t, wsURL)
	rpc(t, desktop, protocol.MethodJoinSession, joinParams("s1"))
	phone := dialPeer(t, wsURL)
	rpc(t, phone, protocol.MethodPhoneConnect, joinParams("s1"))
	readEvent(t, desktop)

	item := json.RawMessage(`{"upc":"00001234567811"}`)
	params, _ := json.Marshal(protocol.ItemParams{SessionID: "s1", Item: item})
	if resp := rpc(t, desktop, protocol.MethodComicDuplicate, params); !resp.OK {
		t.Fatalf("comic-duplicate failed: %+v", resp.Error)
	}

	ev := readEvent(t, phone)
	if ev.Event != protocol.EventDuplicateDetected {
		t.Fatalf("event = %q, want %q", ev.Event, protocol.EventDuplicateDetected)
	}
	if !bytes.Equal(ev.Payload, item) {
		t.Errorf("payload = %s, want %s", ev.Payload, item)
	}
}

func TestRelay_PhoneDisconnectNotifiesDesktop(t *testing.T) {
	wsURL := newTestRelay(t)

	desktop := dialPeer(t, wsURL)
	rpc(t, desktop, protocol.MethodJoinSession, joinParams("s1"))
	phone := dialPeer(t, wsURL)
	rpc(t, phone, protocol.MethodPhoneConnect, joinParams("s1"))
	readEvent(t, desktop) // phone-connected

	phone.Close()

	ev := readEvent(t, desktop)
	if ev.Event != protocol.EventPhoneDisconnected {
		t.Errorf("event = %q, want %q", ev.Event, protocol.EventPhoneDisconnected)
	}
}

func TestRelay_RequiresConnectFirst(t *testing.T) {
	wsURL := newTestRelay(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := rpc(t, conn, protocol.MethodJoinSession, joinParams("s1"))
	if resp.OK {
		t.Fatal("join before connect should be rejected")
	}
	if resp.Error.Code != protocol.ErrNotConnected {
		t.Errorf("error code = %q, want %q", resp.Error.Code, protocol.ErrNotConnected)
	}
}

func TestRelay_MalformedParamsRejected(t *testing.T) {
	wsURL := newTestRelay(t)
	conn := dialPeer(t, wsURL)

	resp := rpc(t, conn, protocol.MethodJoinSession, json.RawMessage(`{"sessionId":42}`))
	if resp.OK {
		t.Fatal("join with non-string sessionId should be rejected")
	}
	if resp.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("error code = %q, want %q", resp.Error.Code, protocol.ErrInvalidRequest)
	}

	resp = rpc(t, conn, protocol.MethodBarcodeScanned, json.RawMessage(`{"sessionId":[1,2]}`))
	if resp.OK {
		t.Fatal("submission with malformed params should be rejected")
	}
	if resp.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("error code = %q, want %q", resp.Error.Code, protocol.ErrInvalidRequest)
	}
}

func TestRelay_SubmissionRequiresMembership(t *testing.T) {
	wsURL := newTestRelay(t)

	stranger := dialPeer(t, wsURL)
	params, _ := json.Marshal(protocol.ItemParams{SessionID: "s1", Item: json.RawMessage(`{}`)})
	resp := rpc(t, stranger, protocol.MethodBarcodeScanned, params)
	if resp.OK {
		t.Fatal("submission from non-member should be rejected")
	}
	if resp.Error.Code != protocol.ErrSessionNotFound {
		t.Errorf("error code = %q, want %q", resp.Error.Code, protocol.ErrSessionNotFound)
	}
}
