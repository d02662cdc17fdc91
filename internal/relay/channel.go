package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/panelbase/comicscan/pkg/protocol"
)

// Channel is the room-scoped event broadcast. Delivery is best-effort,
// at-most-once: no acknowledgment, no retry. Same-sender emissions preserve
// their order because each member drains a single buffered send queue through
// one write pump.
type Channel struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewChannel() *Channel {
	return &Channel{rooms: make(map[string]map[*Client]struct{})}
}

// Join subscribes c to broadcasts scoped to sessionID.
func (ch *Channel) Join(c *Client, sessionID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	room, ok := ch.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		ch.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

// Leave unsubscribes c from sessionID, dropping the room when it empties.
func (ch *Channel) Leave(c *Client, sessionID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	room, ok := ch.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(ch.rooms, sessionID)
	}
}

// Broadcast delivers an event to all current room members.
func (ch *Channel) Broadcast(sessionID, event string, payload json.RawMessage) {
	ch.broadcast(sessionID, nil, event, payload)
}

// BroadcastExcept delivers an event to all room members except the sender.
// Used to republish peer submissions without echoing them back.
func (ch *Channel) BroadcastExcept(sessionID string, skip *Client, event string, payload json.RawMessage) {
	ch.broadcast(sessionID, skip, event, payload)
}

func (ch *Channel) broadcast(sessionID string, skip *Client, event string, payload json.RawMessage) {
	data, err := json.Marshal(protocol.NewEvent(event, payload))
	if err != nil {
		slog.Error("marshal event failed", "event", event, "error", err)
		return
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	for c := range ch.rooms[sessionID] {
		if c == skip {
			continue
		}
		c.SendRaw(data)
	}
}

// Send delivers an event to a single connection.
func (ch *Channel) Send(c *Client, event string, payload json.RawMessage) {
	data, err := json.Marshal(protocol.NewEvent(event, payload))
	if err != nil {
		slog.Error("marshal event failed", "event", event, "error", err)
		return
	}
	c.SendRaw(data)
}
