package protocol

import "encoding/json"

// Relay methods invoked by peers (request frames).
const (
	// MethodConnect is the handshake; it must be the first request on a
	// fresh connection.
	MethodConnect = "connect"
	// MethodHealth is a liveness probe.
	MethodHealth = "health"

	// MethodJoinSession registers the desktop peer in a session room.
	MethodJoinSession = "join-session"
	// MethodPhoneConnect registers the capture peer in a session room.
	// A repeat join for the same session replaces the prior phone mapping.
	MethodPhoneConnect = "phone-connect"
	// MethodBarcodeScanned submits a decoded item from the capture peer;
	// the relay republishes it to the room as EventComicReceived.
	MethodBarcodeScanned = "barcode-scanned"
	// MethodComicDuplicate signals a duplicate from the desktop peer; the
	// relay republishes it to the room as EventDuplicateDetected.
	MethodComicDuplicate = "comic-duplicate"
)

// Events pushed from the relay to room members.
const (
	EventPhoneConnected    = "phone-connected"
	EventPhoneDisconnected = "phone-disconnected"
	EventComicReceived     = "comic-received"
	EventDuplicateDetected = "duplicate-detected"
)

// SessionParams carries the rendezvous token for room membership methods.
type SessionParams struct {
	SessionID string `json:"sessionId"`
}

// ItemParams carries a decoded item submission. Item is kept raw so the relay
// republishes the exact bytes it received.
type ItemParams struct {
	SessionID string          `json:"sessionId"`
	Item      json.RawMessage `json:"item"`
}

// JoinResult is the payload of a successful join-session / phone-connect
// response. PeerPresent tells the joiner whether the other role is already
// in the room; the peer that joined first learns about the newcomer via a
// phone-connected event instead.
type JoinResult struct {
	SessionID   string `json:"sessionId"`
	PeerPresent bool   `json:"peerPresent"`
}
