// Package desktop implements the desktop peer: it mints the session, renders
// the rendezvous QR, consumes scanned items and runs the duplicate-check
// handshake against the collection.
package desktop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panelbase/comicscan/internal/collection"
	"github.com/panelbase/comicscan/internal/connstate"
	"github.com/panelbase/comicscan/internal/peer"
	"github.com/panelbase/comicscan/internal/session"
	"github.com/panelbase/comicscan/pkg/protocol"
)

// State is the pairing lifecycle of the desktop peer.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting" // session minted, no capture peer yet
	StatePaired  State = "paired"  // capture peer present
	StateClosed  State = "closed"
)

// checkTimeout bounds one duplicate-check round trip against the collection.
const checkTimeout = 5 * time.Second

// Collection is the external collection capability: membership test by
// identity key plus insert.
type Collection interface {
	Has(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, item protocol.Item) error
}

// Relay is the slice of the peer transport the client needs. *peer.Peer
// satisfies it; tests substitute a fake.
type Relay interface {
	Dial(ctx context.Context, wsURL string) error
	Call(ctx context.Context, method string, params interface{}) (*protocol.ResponseFrame, error)
	Emit(method string, params interface{}) error
	On(event string, h peer.EventHandler)
	Close() error
	State() connstate.State
}

// Config holds the desktop client's endpoints.
type Config struct {
	ServerURL    string // relay WebSocket URL, e.g. ws://host:8790/ws
	ClientOrigin string // origin baked into the rendezvous URL
}

// Client is the desktop pairing peer.
type Client struct {
	cfg  Config
	coll Collection

	// OnItem fires when a scanned item lands in the working set.
	OnItem func(item protocol.Item)
	// OnPhone fires on capture-peer presence changes.
	OnPhone func(connected bool)

	newRelay func() Relay

	mu        sync.Mutex
	state     State
	sessionID string
	relay     Relay
}

// NewClient creates an idle desktop client.
func NewClient(cfg Config, coll Collection) *Client {
	return &Client{
		cfg:      cfg,
		coll:     coll,
		state:    StateIdle,
		newRelay: func() Relay { return peer.New() },
	}
}

// Begin mints a new session, connects to the relay and joins the room as the
// desktop peer. The session ID is then available for rendezvous rendering.
func (c *Client) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.New("pairing already begun")
	}
	c.sessionID = session.NewToken()
	c.relay = c.newRelay()
	relay := c.relay
	sessionID := c.sessionID
	c.mu.Unlock()

	relay.On(protocol.EventPhoneConnected, func(json.RawMessage) {
		c.setState(StatePaired)
		if c.OnPhone != nil {
			c.OnPhone(true)
		}
	})
	relay.On(protocol.EventPhoneDisconnected, func(json.RawMessage) {
		c.setState(StateWaiting)
		if c.OnPhone != nil {
			c.OnPhone(false)
		}
	})
	relay.On(protocol.EventComicReceived, c.handleItem)

	if err := relay.Dial(ctx, c.cfg.ServerURL); err != nil {
		c.reset()
		return err
	}

	resp, err := relay.Call(ctx, protocol.MethodJoinSession, protocol.SessionParams{SessionID: sessionID})
	if err != nil {
		relay.Close()
		c.reset()
		return fmt.Errorf("join session: %w", err)
	}
	if !resp.OK {
		relay.Close()
		c.reset()
		return fmt.Errorf("join session rejected: %s", resp.Error.Message)
	}

	c.setState(StateWaiting)
	slog.Info("pairing session opened", "session", sessionID)
	return nil
}

// handleItem runs the duplicate-check handshake for one received item:
// exactly one membership test, then either a comic-duplicate signal back to
// the room (no local mutation) or a working-set add. Items that arrive while
// the desktop is transiently disconnected are simply never seen — no queue,
// no catch-up.
func (c *Client) handleItem(payload json.RawMessage) {
	var item protocol.Item
	if err := json.Unmarshal(payload, &item); err != nil {
		slog.Warn("bad comic-received payload", "error", err)
		return
	}
	key := collection.NormalizeKey(item.UPC)
	if key == "" {
		slog.Warn("comic-received without identity key")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	has, err := c.coll.Has(ctx, key)
	if err != nil {
		slog.Error("collection lookup failed", "upc", key, "error", err)
		return
	}

	c.mu.Lock()
	relay := c.relay
	sessionID := c.sessionID
	c.mu.Unlock()
	if relay == nil {
		// End ran while this event was draining through the read loop.
		return
	}

	if has {
		// Duplicate: signal the capture peer, leave local state untouched.
		// The original payload bytes go back out unmodified.
		if err := relay.Emit(protocol.MethodComicDuplicate, protocol.ItemParams{
			SessionID: sessionID,
			Item:      payload,
		}); err != nil {
			slog.Warn("duplicate signal failed", "upc", key, "error", err)
		}
		slog.Info("duplicate scan", "upc", key)
		return
	}

	if err := c.coll.Add(ctx, item); err != nil {
		slog.Error("working set add failed", "upc", key, "error", err)
		return
	}
	slog.Info("item added", "upc", key)
	if c.OnItem != nil {
		c.OnItem(item)
	}
}

// End closes the transport and discards the session ID. Callable from any
// state, idempotent.
func (c *Client) End() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	relay := c.relay
	c.relay = nil
	c.sessionID = ""
	c.mu.Unlock()

	if relay != nil {
		relay.Close()
	}
	slog.Info("pairing session closed")
}

// SessionID returns the current rendezvous token ("" when closed/idle).
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the pairing state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RendezvousURL returns the URL the capture device should load.
func (c *Client) RendezvousURL() string {
	return session.RendezvousURL(c.cfg.ClientOrigin, c.SessionID())
}

// QRPNG renders the rendezvous QR as a PNG.
func (c *Client) QRPNG(size int) ([]byte, error) {
	return session.QRPNG(c.cfg.ClientOrigin, c.SessionID(), size)
}

// QRTerminal renders the rendezvous QR for a terminal.
func (c *Client) QRTerminal() (string, error) {
	return session.QRTerminal(c.cfg.ClientOrigin, c.SessionID())
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
}

func (c *Client) reset() {
	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.relay = nil
	c.mu.Unlock()
}
