// Package statusfeed serves the controller's state to a local UI: a JSON
// snapshot, a websocket push stream, start/stop endpoints and metrics.
package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-sight/pkg/sight"
	"github.com/vango-go/vai-sight/pkg/sight/session"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Controller is the part of session.Controller the feed drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Snapshot() session.Snapshot
}

type Options struct {
	Controller Controller
	Hub        *Hub
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger

	PingInterval time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins lists extra browser origins besides loopback ones.
	AllowedOrigins []string
}

type Server struct {
	ctrl     Controller
	hub      *Hub
	metrics  http.Handler
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	pingInterval time.Duration
	writeTimeout time.Duration
	origins      map[string]struct{}
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		ctrl:         opts.Controller,
		hub:          hub,
		metrics:      opts.Metrics,
		logger:       logger,
		mux:          http.NewServeMux(),
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		origins:      make(map[string]struct{}, len(opts.AllowedOrigins)),
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	for _, o := range opts.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			s.origins[strings.ToLower(o)] = struct{}{}
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.mux.HandleFunc("GET /v1/state", s.handleState)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
	s.mux.HandleFunc("POST /v1/session/start", s.handleStart)
	s.mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = withRecover(s.logger, h)
	h = withAccessLog(s.logger, h)
	h = withRequestID(h)
	return h
}

// Hub returns the hub the server publishes from.
func (s *Server) Hub() *Hub { return s.hub }

// originAllowed accepts requests without an Origin header, loopback origins
// and the configured extras.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := s.origins[strings.ToLower(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type errorEnvelope struct {
	Error *sight.Error `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		writeJSON(w, http.StatusForbidden, errorEnvelope{Error: &sight.Error{Kind: sight.KindPermission, Message: "origin not allowed"}})
		return
	}
	err := s.ctrl.Start(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
		return
	}
	if errors.Is(err, session.ErrSessionActive) || errors.Is(err, session.ErrStopped) {
		writeJSON(w, http.StatusConflict, errorEnvelope{Error: &sight.Error{Kind: sight.KindConfig, Message: err.Error()}})
		return
	}
	var se *sight.Error
	if !errors.As(err, &se) {
		se = &sight.Error{Kind: sight.KindOf(err), Message: err.Error()}
	}
	writeJSON(w, statusForKind(se.Kind), errorEnvelope{Error: &sight.Error{Kind: se.Kind, Message: se.Error()}})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		writeJSON(w, http.StatusForbidden, errorEnvelope{Error: &sight.Error{Kind: sight.KindPermission, Message: "origin not allowed"}})
		return
	}
	_ = s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func statusForKind(kind sight.ErrorKind) int {
	switch kind {
	case sight.KindPermission:
		return http.StatusForbidden
	case sight.KindConfig:
		return http.StatusInternalServerError
	case sight.KindRemote, sight.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleEvents upgrades to a websocket, sends the current snapshot and then
// relays hub messages with a ping keepalive until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("status feed upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(0)
	defer sub.Cancel()

	snap := s.ctrl.Snapshot()
	if err := s.write(conn, Message{Type: MessageStatus, Snapshot: &snap}); err != nil {
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case msg, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "status feed closed"),
					time.Now().Add(s.writeTimeout))
				return
			}
			if err := s.write(conn, msg); err != nil {
				s.logger.Debug("status feed write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is done, then shuts down within grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, grace)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("status feed listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}
