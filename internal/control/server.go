// Package control exposes a Supervisor to UI front ends over a local
// websocket, plus the Prometheus endpoint.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scienceol/barista/internal/power"
	"github.com/scienceol/barista/internal/protocol"
	"go.uber.org/zap"
)

const (
	pingInterval    = 20 * time.Second
	writeTimeout    = 10 * time.Second
	writeChanSize   = 64
	shutdownTimeout = 5 * time.Second
)

// Supervisor is the part of *power.Supervisor the server drives.
type Supervisor interface {
	SetEnabled(enabled bool)
	SetOptions(opts power.Options)
	Status() power.Status
	Subscribe() (<-chan power.Status, func())
}

// Server handles control connections.
type Server struct {
	sup      Supervisor
	log      *zap.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*websocket.Conn]struct{}
	closing  bool
}

// NewServer returns a server for sup. A nil metrics handler leaves
// /metrics unregistered.
func NewServer(sup Supervisor, log *zap.Logger, metrics http.Handler) *Server {
	s := &Server{
		sup:      sup,
		log:      log,
		mux:      http.NewServeMux(),
		sessions: make(map[*websocket.Conn]struct{}),
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	if metrics != nil {
		s.mux.Handle("/metrics", metrics)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until ctx is done. On return every
// control session has been closed; hijacked websocket connections are not
// covered by http.Server.Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: writeTimeout}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.closeSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	s.log.Debug("control client connected", zap.String("remote", r.RemoteAddr))

	c := &session{
		writeCh: make(chan protocol.Response, writeChanSize),
		done:    make(chan struct{}),
		log:     s.log,
	}
	go c.writeLoop(conn)

	updates, unsubscribe := s.sup.Subscribe()
	go c.pushLoop(updates)
	go c.heartbeatLoop()

	defer func() {
		s.untrack(conn)
		unsubscribe()
		close(c.done)
		conn.Close()
		s.log.Debug("control client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	// Message loop (single reader — no concurrency issue on reads)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.log.Debug("invalid control message", zap.Error(err))
			continue
		}

		if req.Type == protocol.TypePong {
			continue
		}
		c.send(s.handleRequest(req))
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.sessions, conn)
	s.mu.Unlock()
}

// closeSessions ends every live session and refuses new ones. Each
// session's read loop then fails and runs its own cleanup.
func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.sessions {
		conn.Close()
	}
	if n := len(s.sessions); n > 0 {
		s.log.Info("closed control sessions", zap.Int("count", n))
	}
}

func (s *Server) handleRequest(req protocol.Request) protocol.Response {
	var err error

	switch req.Type {
	case protocol.TypePing:
		return protocol.Response{ID: req.ID, Type: protocol.TypePong, Success: true}
	case protocol.TypeStatus:
	case protocol.TypeSetEnabled:
		var p protocol.SetEnabledPayload
		if err = json.Unmarshal(req.Payload, &p); err == nil {
			s.log.Info("set enabled", zap.Bool("enabled", p.Enabled))
			s.sup.SetEnabled(p.Enabled)
		}
	case protocol.TypeSetOptions:
		var p protocol.SetOptionsPayload
		if err = json.Unmarshal(req.Payload, &p); err == nil {
			s.log.Info("set options", zap.Strings("args", p.Options.Args()))
			s.sup.SetOptions(p.Options)
		}
	default:
		err = fmt.Errorf("unknown request type: %s", req.Type)
	}

	if err != nil {
		return errorResponse(req, err)
	}
	resp, err := protocol.NewResponse(req.ID, protocol.ResultType(req.Type), true,
		protocol.NewStatusPayload(s.sup.Status()))
	if err != nil {
		return errorResponse(req, err)
	}
	return resp
}

func errorResponse(req protocol.Request, err error) protocol.Response {
	raw, _ := json.Marshal(protocol.ErrorPayload{Error: err.Error()})
	return protocol.Response{ID: req.ID, Type: protocol.ResultType(req.Type), Success: false, Payload: raw}
}

// session is one connected control client.
type session struct {
	writeCh chan protocol.Response
	done    chan struct{}
	log     *zap.Logger
}

// send enqueues a message for the write goroutine. Non-blocking — drops
// the message if the buffer is full or the session has ended.
func (c *session) send(resp protocol.Response) {
	select {
	case <-c.done:
	case c.writeCh <- resp:
	default:
		c.log.Warn("control client too slow, dropping message", zap.String("type", resp.Type))
	}
}

// writeLoop is the single goroutine that writes to the websocket.
func (c *session) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.writeCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Debug("control write error", zap.Error(err))
				return
			}
		}
	}
}

// pushLoop forwards every supervisor status as an unsolicited event.
func (c *session) pushLoop(updates <-chan power.Status) {
	for st := range updates {
		resp, err := protocol.NewResponse("", protocol.TypeStatus, true, protocol.NewStatusPayload(st))
		if err != nil {
			continue
		}
		c.send(resp)
	}
}

func (c *session) heartbeatLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.send(protocol.Response{Type: protocol.TypePing, Success: true})
		}
	}
}
