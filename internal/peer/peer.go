// Package peer is the client side of the relay protocol: dial, connect
// handshake, request/response correlation and event dispatch. Both the
// desktop and the capture peers sit on top of it.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/panelbase/comicscan/internal/connstate"
	"github.com/panelbase/comicscan/pkg/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// ErrClosed is returned for operations on a peer whose transport has ended.
var ErrClosed = errors.New("peer: connection closed")

// EventHandler consumes a relay event payload. Handlers run on the read loop;
// they must not block.
type EventHandler func(payload json.RawMessage)

// Peer is one endpoint of a relay session.
type Peer struct {
	state *connstate.Machine
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}

	mu       sync.Mutex
	pending  map[string]chan *protocol.ResponseFrame
	handlers map[string]EventHandler

	closeOnce sync.Once
}

// New creates an undialed peer in the connecting state.
func New() *Peer {
	return &Peer{
		state:    connstate.New(nil),
		send:     make(chan []byte, 64),
		done:     make(chan struct{}),
		pending:  make(map[string]chan *protocol.ResponseFrame),
		handlers: make(map[string]EventHandler),
	}
}

// On registers a handler for a relay event. Register before Dial to avoid
// missing early events.
func (p *Peer) On(event string, h EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[event] = h
}

// State returns the transport state.
func (p *Peer) State() connstate.State { return p.state.State() }

// Dial connects to the relay and runs the connect handshake. A handshake
// failure is terminal: the peer lands in the error state and the only
// recovery is a fresh peer with a fresh rendezvous token.
func (p *Peer) Dial(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		err = fmt.Errorf("dial relay %s: %w", wsURL, err)
		p.state.Fail(err)
		return err
	}
	p.conn = conn

	if err := p.handshake(); err != nil {
		conn.Close()
		p.state.Fail(err)
		return err
	}

	p.state.Connect()
	go p.readLoop()
	go p.writeLoop()
	return nil
}

func (p *Peer) handshake() error {
	params, _ := json.Marshal(map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
	})
	req := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     uuid.NewString(),
		Method: protocol.MethodConnect,
		Params: params,
	}
	if err := p.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	p.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var resp protocol.ResponseFrame
	if err := p.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	p.conn.SetReadDeadline(time.Time{})

	if !resp.OK {
		msg := "unknown error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return fmt.Errorf("connect rejected: %s", msg)
	}
	return nil
}

// Call invokes a relay method and waits for its response.
func (p *Peer) Call(ctx context.Context, method string, params interface{}) (*protocol.ResponseFrame, error) {
	id := uuid.NewString()
	ch := make(chan *protocol.ResponseFrame, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.write(id, method, params); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Emit invokes a relay method fire-and-forget; the response, if any, is
// discarded. This is the delivery model of the whole relay: no ack, no retry.
func (p *Peer) Emit(method string, params interface{}) error {
	return p.write(uuid.NewString(), method, params)
}

func (p *Peer) write(id, method string, params interface{}) error {
	if p.state.State() != connstate.StateConnected {
		return ErrClosed
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}

	frame, err := json.Marshal(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	select {
	case p.send <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *Peer) readLoop() {
	defer p.teardown()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("relay read error", "error", err)
			}
			return
		}

		frameType, err := protocol.ParseFrameType(data)
		if err != nil {
			slog.Warn("invalid relay frame", "error", err)
			continue
		}

		switch frameType {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			p.mu.Lock()
			ch := p.pending[resp.ID]
			p.mu.Unlock()
			if ch != nil {
				ch <- &resp
			}

		case protocol.FrameTypeEvent:
			var ev protocol.EventFrame
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			p.mu.Lock()
			h := p.handlers[ev.Event]
			p.mu.Unlock()
			if h != nil {
				h(ev.Payload)
			} else {
				slog.Debug("unhandled relay event", "event", ev.Event)
			}
		}
	}
}

func (p *Peer) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Peer) teardown() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.state.Disconnect()
		if p.conn != nil {
			p.conn.Close()
		}
	})
}

// Close ends the transport. Idempotent and callable from any state.
func (p *Peer) Close() error {
	p.teardown()
	return nil
}
