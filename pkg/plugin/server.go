// Package plugin accepts the WebSocket connection from the game server
// plugin, publishes its frames to the bus and writes commands back.
package plugin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scpdiscord/scpdiscord/pkg/bus"
	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

var (
	ErrNotConnected   = errors.New("plugin not connected")
	ErrSendBufferFull = errors.New("plugin send buffer full")
)

type Config struct {
	ListenAddr string
	Path       string
	Token      string // empty disables the check
}

// Server holds at most one active plugin connection; a new connection
// replaces the previous one.
type Server struct {
	cfg      Config
	bus      bus.Broker
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	active    *conn
	listeners []func(connected bool)
}

func NewServer(cfg Config, b bus.Broker) *Server {
	if cfg.Path == "" {
		cfg.Path = "/plugin"
	}
	return &Server{
		cfg: cfg,
		bus: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The plugin is not a browser, there is no origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnConnectionChange registers fn to be called when the plugin connects or
// disconnects. Must be called before Run.
func (s *Server) OnConnectionChange(fn func(connected bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Server) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil
}

// Send queues env for the active plugin connection.
func (s *Server) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	s.mu.RLock()
	c := s.active
	s.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Handler serves the plugin endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.forwardOutbound(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.InfoCF("plugin", "Listening for plugin connections", map[string]any{
		"addr": ln.Addr().String(),
		"path": s.cfg.Path,
	})

	select {
	case <-ctx.Done():
		s.closeActive()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnCF("plugin", "Plugin server shutdown incomplete", map[string]any{
				"error": err.Error(),
			})
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("plugin server failed: %w", err)
	}
}

// forwardOutbound writes frames published on the bus by components that do
// not need to know whether the plugin received them.
func (s *Server) forwardOutbound(ctx context.Context) {
	for {
		msg, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := s.Send(msg.Envelope); err != nil {
			logger.WarnCF("plugin", "Dropped frame for plugin", map[string]any{
				"type":  msg.Envelope.Type,
				"error": err.Error(),
			})
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		logger.WarnCF("plugin", "Rejected plugin connection with invalid token", map[string]any{
			"remote": r.RemoteAddr,
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("plugin", "WebSocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	c := newConn(uuid.NewString(), ws)
	s.attach(c, r.RemoteAddr)
	go c.writePump()
	c.readPump(s.bus)
	s.detach(c)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.cfg.Token
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) attach(c *conn, remote string) {
	s.mu.Lock()
	old := s.active
	s.active = c
	listeners := s.listeners
	s.mu.Unlock()

	if old != nil {
		logger.InfoCF("plugin", "Replacing previous plugin connection", map[string]any{
			"old_conn_id": old.id,
		})
		old.close()
	}

	logger.InfoCF("plugin", "Plugin connected", map[string]any{
		"conn_id": c.id,
		"remote":  remote,
	})
	notify(listeners, true)
}

func (s *Server) detach(c *conn) {
	s.mu.Lock()
	current := s.active == c
	if current {
		s.active = nil
	}
	listeners := s.listeners
	s.mu.Unlock()

	c.close()
	if !current {
		return
	}

	logger.InfoCF("plugin", "Plugin disconnected", map[string]any{
		"conn_id": c.id,
	})
	notify(listeners, false)
}

func (s *Server) closeActive() {
	s.mu.RLock()
	c := s.active
	s.mu.RUnlock()
	if c != nil {
		c.close()
	}
}

func notify(listeners []func(bool), connected bool) {
	for _, fn := range listeners {
		fn(connected)
	}
}
