// Package relay implements the pairing relay: a WebSocket server that links
// exactly one desktop peer and one capture peer per session and republishes
// their events, fire-and-forget.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/panelbase/comicscan/internal/config"
	"github.com/panelbase/comicscan/pkg/protocol"
)

const sweepInterval = time.Minute

// Server owns the relay's transport, membership and broadcast state.
type Server struct {
	cfg      config.ServerConfig
	registry *Registry
	channel  *Channel
	router   *MethodRouter
	limiter  *RateLimiter
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewServer(cfg config.ServerConfig) *Server {
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		channel:  NewChannel(),
		limiter:  NewRateLimiter(cfg.RateRPM, cfg.RateBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The rendezvous token is the capability; origin checks add
			// nothing for a LAN pairing flow.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
	s.router = newMethodRouter(s)
	return s
}

// Handler returns the HTTP mux: /ws for the relay protocol, /healthz for
// probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.registry.Len())
	})
	return mux
}

// Run serves the relay until ctx is cancelled, sweeping abandoned sessions in
// the background.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port)),
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.sweepLoop(ctx)
		return nil
	})

	return g.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !s.limiter.Allow(ip) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, s)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	slog.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)
	go c.run()
}

// SetSessionTTL updates the GC horizon at runtime (config hot reload).
func (s *Server) SetSessionTTL(d time.Duration) {
	s.mu.Lock()
	s.cfg.SessionTTL = config.Duration(d)
	s.mu.Unlock()
}

func (s *Server) sessionTTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.SessionTTL.Std()
}

// dropClient removes a connection's membership and notifies its remaining
// peer. Called exactly once per connection, from the read-pump exit path.
func (s *Server) dropClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	dep, ok := s.registry.Leave(c)
	if ok {
		s.channel.Leave(c, dep.SessionID)
		if dep.Peer != nil {
			s.channel.Send(dep.Peer, protocol.EventPhoneDisconnected, nil)
		}
		slog.Info("session left", "session", dep.SessionID, "role", dep.Role, "client", c.id)
	}
	c.Close()
}

// sweepLoop garbage-collects sessions idle longer than the configured TTL.
// The relay protocol never expires abandoned sessions; the sweep bounds that
// growth. Evicted members get a phone-disconnected before their connection
// closes.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.registry.Expire(s.sessionTTL())
			for _, c := range evicted {
				s.channel.Send(c, protocol.EventPhoneDisconnected, nil)
				c.Close()
			}
			if len(evicted) > 0 {
				slog.Info("expired sessions swept", "connections", len(evicted))
			}
		}
	}
}
