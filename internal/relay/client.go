package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxMessageSize is the maximum allowed WebSocket message size (512KB).
// Gorilla/websocket closes the connection with ErrReadLimit if exceeded.
// Item payloads are small; the limit exists for defence against junk frames.
const maxMessageSize = 512 * 1024

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Client represents a single WebSocket connection to the relay.
type Client struct {
	id        string
	conn      *websocket.Conn
	server    *Server
	connected bool // connect handshake completed
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// run starts the write pump and blocks on the read pump until the connection
// drops. Membership cleanup happens exactly once, on read-pump exit.
func (c *Client) run() {
	go c.writePump()
	c.readPump()
	c.server.dropClient(c)
}

func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		c.server.router.Dispatch(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendRaw queues pre-marshalled bytes for delivery. Best-effort: a closed
// connection or a full buffer drops the message rather than blocking the
// broadcaster. The send channel itself is never closed, so a send racing
// Close (both peers dropping at once, or the sweep evicting a session while
// its members disconnect) degrades to a dropped message.
func (c *Client) SendRaw(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "client", c.id)
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// Close shuts down the client connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
