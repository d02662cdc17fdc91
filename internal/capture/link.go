package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/panelbase/comicscan/internal/connstate"
	"github.com/panelbase/comicscan/internal/peer"
	"github.com/panelbase/comicscan/pkg/protocol"
)

// Link is the capture peer's attachment to a relay session. It implements
// Sink, so the scheduler relays through it directly.
type Link struct {
	sessionID string
	peer      *peer.Peer

	// OnDuplicate fires when the desktop reports the scanned item is already
	// in the collection. Set before Connect.
	OnDuplicate func(item protocol.Item)
	// OnDesktop fires on desktop presence changes. Set before Connect.
	OnDesktop func(connected bool)
}

// NewLink creates a link for the given rendezvous token.
func NewLink(sessionID string) *Link {
	return &Link{sessionID: sessionID, peer: peer.New()}
}

// Connect dials the relay and joins the session as the capture peer.
func (l *Link) Connect(ctx context.Context, wsURL string) error {
	l.peer.On(protocol.EventDuplicateDetected, func(payload json.RawMessage) {
		var item protocol.Item
		if err := json.Unmarshal(payload, &item); err != nil {
			slog.Warn("bad duplicate-detected payload", "error", err)
			return
		}
		if l.OnDuplicate != nil {
			l.OnDuplicate(item)
		}
	})
	l.peer.On(protocol.EventPhoneConnected, func(json.RawMessage) {
		if l.OnDesktop != nil {
			l.OnDesktop(true)
		}
	})
	l.peer.On(protocol.EventPhoneDisconnected, func(json.RawMessage) {
		if l.OnDesktop != nil {
			l.OnDesktop(false)
		}
	})

	if err := l.peer.Dial(ctx, wsURL); err != nil {
		return err
	}

	resp, err := l.peer.Call(ctx, protocol.MethodPhoneConnect, protocol.SessionParams{SessionID: l.sessionID})
	if err != nil {
		l.peer.Close()
		return fmt.Errorf("join session: %w", err)
	}
	if !resp.OK {
		l.peer.Close()
		return fmt.Errorf("join session rejected: %s", resp.Error.Message)
	}

	slog.Info("capture peer joined", "session", l.sessionID)
	return nil
}

// Relay submits a decoded item to the session room (fire-and-forget).
func (l *Link) Relay(item protocol.Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return l.peer.Emit(protocol.MethodBarcodeScanned, protocol.ItemParams{
		SessionID: l.sessionID,
		Item:      raw,
	})
}

// State returns the transport state.
func (l *Link) State() connstate.State { return l.peer.State() }

// Close ends the transport. Idempotent.
func (l *Link) Close() error { return l.peer.Close() }
