// Package gateway terminates client WebSocket connections and feeds their
// frames into the delivery components.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/receipt"
	"github.com/matheus3301/parley/internal/registry"
	"github.com/matheus3301/parley/internal/router"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/typing"
	"go.uber.org/zap"
)

// Config holds transport limits and keep-alive timing.
type Config struct {
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	SendBuffer    int
	MaxFrameBytes int64
}

// DefaultConfig returns production keep-alive settings.
func DefaultConfig() Config {
	return Config{
		PingInterval:  25 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
		SendBuffer:    64,
		MaxFrameBytes: 64 << 10,
	}
}

// Services are the components a connection talks to.
type Services struct {
	Identity auth.IdentityResolver
	Registry *registry.Registry
	Presence *presence.Tracker
	Router   *router.Router
	Receipts *receipt.Tracker
	Typing   *typing.Relay
	Calls    *call.Service
	// Status gates admission. Nil admits until Shutdown.
	Status *status.Machine
}

// Server owns every live connection.
type Server struct {
	cfg      Config
	svc      Services
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	draining bool
	live     sync.WaitGroup
}

// New creates a gateway and points the registry's eviction hook at the
// connection release path.
func New(cfg Config, svc Services, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	svc.Registry.SetEvictHandler(s.evicted)
	return s
}

// Handler serves /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /healthz", s.serveHealth)
	return mux
}

func (s *Server) accepting() bool {
	if s.svc.Status != nil && !s.svc.Status.Accepting() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.draining
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	state := "SERVING"
	if s.svc.Status != nil {
		state = string(s.svc.Status.Current())
	}
	stats := s.svc.Registry.Stats()

	w.Header().Set("Content-Type", "application/json")
	if !s.accepting() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   state,
		"users":    stats.Users,
		"sessions": stats.Sessions,
	})
}

func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.accepting() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	userID, err := s.svc.Identity.ResolveIdentity(r.Context(), credential(r))
	if err != nil {
		s.logger.Info("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug("upgrade failed", zap.String("user", userID), zap.Error(err))
		return
	}

	c := newConn(ws, userID, s.cfg)
	if !s.admit() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "draining"),
			time.Now().Add(s.cfg.WriteWait))
		_ = ws.Close()
		return
	}

	ctx := context.WithoutCancel(r.Context())
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("session handler panic", zap.String("session", c.id), zap.Any("panic", p))
		}
		s.release(c)
	}()

	go c.writePump()
	s.svc.Presence.OnConnect(ctx, c)
	if !s.accepting() {
		// Shutdown began between admit and registration.
		_ = c.Close()
	}
	s.logger.Debug("session opened", zap.String("user", userID), zap.String("session", c.id))

	err = c.readPump(func(data []byte) { s.dispatch(ctx, c, data) })
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Debug("session read ended", zap.String("session", c.id), zap.Error(err))
	}
}

// admit counts a new live connection unless draining has begun.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.live.Add(1)
	return true
}

// release is the only teardown path. Read errors, send failures, panics and
// shutdown all end here, and it runs at most once per connection.
func (s *Server) release(c *conn) {
	c.releaseOnce.Do(func() {
		defer s.live.Done()
		_ = c.Close()

		ctx := context.Background()
		if s.svc.Presence.OnDisconnect(ctx, c) {
			s.svc.Calls.OnPeerGone(c.userID)
		}
		s.logger.Debug("session released", zap.String("user", c.userID), zap.String("session", c.id))
	})
}

// evicted is the registry hook for sessions that failed a send.
func (s *Server) evicted(rs registry.Session) {
	if c, ok := rs.(*conn); ok {
		s.release(c)
		return
	}
	_ = rs.Close()
	if s.svc.Presence.OnDisconnect(context.Background(), rs) {
		s.svc.Calls.OnPeerGone(rs.UserID())
	}
}

// Shutdown stops admitting connections, closes every live session and waits
// for their release or ctx expiry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	sessions := s.svc.Registry.All()
	for _, rs := range sessions {
		_ = rs.Close()
	}
	s.logger.Info("draining sessions", zap.Int("count", len(sessions)))

	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("drain incomplete"), ctx.Err())
	}
}
