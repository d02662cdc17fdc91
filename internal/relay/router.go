package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/panelbase/comicscan/pkg/protocol"
)

// MethodHandler processes a single relay method request.
type MethodHandler func(client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func newMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.register(protocol.MethodConnect, r.handleConnect)
	r.register(protocol.MethodHealth, r.handleHealth)
	r.register(protocol.MethodJoinSession, r.joinHandler(RoleDesktop))
	r.register(protocol.MethodPhoneConnect, r.joinHandler(RoleCapture))
	r.register(protocol.MethodBarcodeScanned, r.relayHandler(protocol.EventComicReceived))
	r.register(protocol.MethodComicDuplicate, r.relayHandler(protocol.EventDuplicateDetected))
	return r
}

func (r *MethodRouter) register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Dispatch parses a raw frame and routes it to the matching handler.
func (r *MethodRouter) Dispatch(client *Client, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		r.sendError(client, "", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}
	if frameType != protocol.FrameTypeRequest {
		r.sendError(client, "", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		r.sendError(client, "", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
		return
	}

	// First request must be "connect"
	if !client.connected && req.Method != protocol.MethodConnect {
		r.sendError(client, req.ID, protocol.ErrNotConnected, "first request must be 'connect'")
		return
	}

	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		r.sendError(client, req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method)
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(client, &req)
}

// --- Handlers ---

func (r *MethodRouter) handleConnect(client *Client, req *protocol.RequestFrame) {
	client.connected = true
	r.respond(client, protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"server": map[string]interface{}{
			"name":    "comicscan-relay",
			"version": "0.3.0",
		},
	}))
}

func (r *MethodRouter) handleHealth(client *Client, req *protocol.RequestFrame) {
	r.respond(client, protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status":   "ok",
		"sessions": r.server.registry.Len(),
	}))
}

// joinHandler builds the membership handler for one role. Whichever peer
// joins second triggers exactly one phone-connected event, delivered to the
// peer that joined first; the joiner learns about the peer from the response.
func (r *MethodRouter) joinHandler(role Role) MethodHandler {
	return func(client *Client, req *protocol.RequestFrame) {
		var params protocol.SessionParams
		if req.Params != nil {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				r.sendError(client, req.ID, protocol.ErrInvalidRequest, "malformed params: "+err.Error())
				return
			}
		}
		if params.SessionID == "" {
			r.sendError(client, req.ID, protocol.ErrInvalidRequest, "sessionId required")
			return
		}

		peer, replaced := r.server.registry.Join(params.SessionID, role, client)
		if replaced != nil {
			// A phone reconnect silently replaces the prior mapping; the
			// stale connection gets detached and closed.
			r.server.channel.Leave(replaced, params.SessionID)
			replaced.Close()
			slog.Info("session member replaced", "session", params.SessionID, "role", role, "old", replaced.id, "new", client.id)
		}
		r.server.channel.Join(client, params.SessionID)

		if peer != nil {
			r.server.channel.Send(peer, protocol.EventPhoneConnected, nil)
		}

		slog.Info("session joined", "session", params.SessionID, "role", role, "client", client.id, "peer_present", peer != nil)
		r.respond(client, protocol.NewOKResponse(req.ID, protocol.JoinResult{
			SessionID:   params.SessionID,
			PeerPresent: peer != nil,
		}))
	}
}

// relayHandler builds the republish handler for an item submission. The item
// bytes are forwarded to the rest of the room untouched.
func (r *MethodRouter) relayHandler(event string) MethodHandler {
	return func(client *Client, req *protocol.RequestFrame) {
		var params protocol.ItemParams
		if req.Params != nil {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				r.sendError(client, req.ID, protocol.ErrInvalidRequest, "malformed params: "+err.Error())
				return
			}
		}
		if params.SessionID == "" {
			r.sendError(client, req.ID, protocol.ErrInvalidRequest, "sessionId required")
			return
		}
		if !r.server.registry.Member(client, params.SessionID) {
			r.sendError(client, req.ID, protocol.ErrSessionNotFound, "not a member of session "+params.SessionID)
			return
		}
		r.server.registry.Touch(client)

		r.server.channel.BroadcastExcept(params.SessionID, client, event, params.Item)
		r.respond(client, protocol.NewOKResponse(req.ID, nil))
	}
}

func (r *MethodRouter) respond(client *Client, resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	client.SendRaw(data)
}

func (r *MethodRouter) sendError(client *Client, id, code, message string) {
	r.respond(client, protocol.NewErrorResponse(id, code, message))
}
