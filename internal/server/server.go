// Package server implements the connection manager and message router: it
// upgrades WebSocket connections into sessions, runs every inbound envelope
// through the middleware pipeline, dispatches to registered handlers, and
// broadcasts outbound envelopes to rooms.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/auth"
	"github.com/atelierhq/collabd/internal/metrics"
	"github.com/atelierhq/collabd/internal/middleware"
	"github.com/atelierhq/collabd/internal/protocol"
	"github.com/atelierhq/collabd/internal/room"
	"github.com/atelierhq/collabd/internal/session"
)

const (
	readTimeout  = 60 * time.Second
	startupGrace = 100 * time.Millisecond
)

// CheckOriginFn validates the origin of an upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// RateLimitConfig defines the per-session inbound message limit.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained rate a session may send at.
	MessagesPerSecond rate.Limit
	// Burst is the token bucket capacity.
	Burst int
	// Enabled determines whether limiting is active.
	Enabled bool
}

// DefaultPermissions is the default mapping from message type to the
// permission tag it requires. Used when Config.Permissions is nil.
func DefaultPermissions() map[string]string {
	return map[string]string{
		collabd.MsgFileOperation: collabd.PermWrite,
		collabd.MsgDeployment:    collabd.PermExecute,
		collabd.MsgTerminalInput: collabd.PermExecute,
	}
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// Config assembles a Server.
type Config struct {
	// Addr is the listen address used by Start (e.g. ":8765").
	Addr string

	// CheckOrigin validates upgrade origins. Nil allows same-origin only
	// (the gorilla default).
	CheckOrigin CheckOriginFn

	// RateLimit is the per-session limit; nil uses the default.
	RateLimit *RateLimitConfig

	// TokenSecret signs auth tokens. Empty generates a random process-wide
	// secret, which invalidates all outstanding tokens on restart.
	TokenSecret []byte

	// TokenTTL is the token validity window. Zero means 24 hours.
	TokenTTL time.Duration

	// Permissions maps message types to the permission tag they require.
	Permissions map[string]string

	// Authorizer, when set, is consulted after a presented token passes
	// signature and expiry checks. It is the pluggable credential
	// verification point; nil accepts every valid token.
	Authorizer func(claims *auth.Claims) error

	// FileOperations and Deployment are the external collaborators bound
	// to the "file_operation" and "deployment" message types. They receive
	// the raw envelope and send their own replies; the router does not
	// inspect their output. Nil leaves the type unhandled.
	FileOperations collabd.Handler
	Deployment     collabd.Handler

	// Logger receives structured logs. Nil uses slog.Default().
	Logger *slog.Logger

	// PromRegistry receives the Prometheus collectors. Nil uses the
	// default registerer.
	PromRegistry prometheus.Registerer
}

// Server implements collabd.Server.
type Server struct {
	addr    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry *session.Registry
	rooms    *room.Index
	tokens   *auth.Manager
	pipeline *middleware.Pipeline

	authorizer func(*auth.Claims) error

	handlersMu sync.RWMutex
	handlers   map[string]collabd.Handler

	rateLimit *RateLimitConfig
	upgrader  websocket.Upgrader

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
}

// New builds a server with the built-in middleware pipeline (logging,
// rate-limit, permission) and handlers registered.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	if cfg.Permissions == nil {
		cfg.Permissions = DefaultPermissions()
	}

	tokens, err := auth.NewManager(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	m := metrics.New(cfg.PromRegistry)

	s := &Server{
		addr:       cfg.Addr,
		logger:     logger,
		metrics:    m,
		registry:   session.NewRegistry(m),
		rooms:      room.NewIndex(),
		tokens:     tokens,
		authorizer: cfg.Authorizer,
		handlers:   make(map[string]collabd.Handler),
		rateLimit:  cfg.RateLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}

	s.pipeline = middleware.NewPipeline(logger,
		middleware.NewLogging(logger),
		middleware.NewRateLimit(),
		middleware.NewPermission(cfg.Permissions),
	)

	s.registerBuiltins(cfg)

	return s, nil
}

// Start starts the WebSocket server on the configured address.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(collabd.ErrServerAlreadyRunning)
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleUpgrade)
	mux.HandleFunc("/ws/", s.HandleUpgrade)

	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(startupGrace):
		s.logger.Info("server started", "addr", s.addr)
		return nil
	}
}

// Stop stops the server and runs the disconnect cleanup for every session.
// When the upgrade endpoint is mounted on an external router instead of
// Start's own listener, Stop still tears the sessions down; shutting the
// outer HTTP server is then the caller's job.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.running = false
	s.httpServer = nil
	s.mu.Unlock()

	for _, sess := range s.registry.List() {
		s.disconnect(ctx, sess)
	}

	if httpServer != nil {
		return httpServer.Shutdown(ctx)
	}
	return nil
}

// RegisterHandler binds a handler to a message type, replacing any earlier
// registration for the same type.
func (s *Server) RegisterHandler(msgType string, handler collabd.Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[msgType] = handler
}

// Use appends a middleware stage after the built-in ones.
func (s *Server) Use(m collabd.Middleware) {
	s.pipeline.Append(m)
}

// Metrics returns the server's counter set.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// HandleUpgrade upgrades an HTTP request to a WebSocket session. It is
// exported so the upgrade endpoint can be mounted on an external router
// alongside other routes.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	var limiter *rate.Limiter
	if s.rateLimit.Enabled {
		limiter = rate.NewLimiter(s.rateLimit.MessagesPerSecond, s.rateLimit.Burst)
	}

	sess := session.New(conn, r.RemoteAddr, workspaceFromPath(r.URL.Path), limiter)
	s.registry.Register(sess)

	go s.serveSession(sess)
}

// workspaceFromPath derives the workspace name from the upgrade path,
// stripping the /ws mount prefix. An empty remainder means "default".
func workspaceFromPath(p string) string {
	p = strings.TrimPrefix(p, "/ws")
	p = strings.Trim(p, "/")
	if p == "" {
		return "default"
	}
	return p
}

// serveSession runs the per-connection read loop. Message handling for one
// session is strictly sequential; different sessions run concurrently.
func (s *Server) serveSession(sess *session.Session) {
	defer s.disconnect(context.Background(), sess)

	s.logger.Info("session connected",
		"session_id", sess.ID(),
		"workspace", sess.Workspace(),
		"remote_addr", sess.RemoteAddr())

	conn := sess.Conn()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	s.send(sess.Context(), sess, collabd.Envelope{
		"type":        collabd.MsgWelcome,
		"client_id":   sess.ID(),
		"workspace":   sess.Workspace(),
		"server_time": protocol.Timestamp(),
	})

	for {
		select {
		case <-sess.Context().Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("unexpected close", "session_id", sess.ID(), "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		sess.Touch()
		s.metrics.MessageReceived()
		s.dispatch(sess.Context(), sess, data)
	}
}

// disconnect runs the teardown state machine exactly once per session: leave
// every room, notify the remaining workspace members, then remove the session
// from the registry. Every step runs regardless of earlier failures so no
// room membership leaks.
func (s *Server) disconnect(ctx context.Context, sess *session.Session) {
	if !sess.BeginDisconnect() {
		return
	}

	s.rooms.LeaveAll(sess.ID())

	s.SendToRoom(ctx, sess.Workspace(), collabd.Envelope{
		"type":      collabd.MsgUserLeft,
		"client_id": sess.ID(),
		"timestamp": protocol.Timestamp(),
	}, sess.ID())

	s.registry.Remove(sess.ID())
	sess.Close(ctx)

	s.logger.Info("session disconnected", "session_id", sess.ID(), "workspace", sess.Workspace())
}
