// Package session owns the set of live connections and their state. Sessions
// are created by the server on upgrade, mutated only while handling their own
// inbound messages or during their disconnect sequence, and destroyed exactly
// once.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
)

const (
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Session is one live client connection with its authentication and
// permission state. It implements collabd.Session.
type Session struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	workspace  string

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte

	limiter       *rate.Limiter
	disconnecting atomic.Bool

	mu            sync.RWMutex
	closed        bool
	authenticated bool
	permissions   map[string]struct{}
	metadata      map[string]any
	connectedAt   time.Time
	lastActivity  time.Time
}

// New creates a session for an upgraded connection and starts its write
// pump. A nil limiter disables per-session rate limiting.
func New(conn *websocket.Conn, remoteAddr, workspace string, limiter *rate.Limiter) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	s := &Session{
		id:           uuid.New().String(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		workspace:    workspace,
		ctx:          ctx,
		cancel:       cancel,
		sendCh:       make(chan []byte, sendQueueSize),
		limiter:      limiter,
		permissions:  make(map[string]struct{}),
		metadata:     make(map[string]any),
		connectedAt:  now,
		lastActivity: now,
	}

	go s.writePump()

	return s
}

// ID returns the unique identifier assigned at connect time.
func (s *Session) ID() string {
	return s.id
}

// Workspace returns the workspace the connection path resolved to.
func (s *Session) Workspace() string {
	return s.workspace
}

// RemoteAddr returns the client's remote network address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Context returns the session's lifecycle context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Conn exposes the underlying connection for the read loop.
func (s *Session) Conn() *websocket.Conn {
	return s.conn
}

// Authenticated reports whether the auth flow completed.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated flips the authenticated flag.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}

// Permissions returns a copy of the granted permission tags.
func (s *Session) Permissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.permissions))
	for tag := range s.permissions {
		out = append(out, tag)
	}
	return out
}

// HasPermission reports whether the session holds the given tag.
func (s *Session) HasPermission(tag string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.permissions[tag]
	return ok
}

// Grant adds permission tags to the session.
func (s *Session) Grant(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		s.permissions[tag] = struct{}{}
	}
}

// RevokeAll clears every granted permission.
func (s *Session) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions = make(map[string]struct{})
}

// SetMeta stores a free-form metadata value.
func (s *Session) SetMeta(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Meta returns a previously stored metadata value.
func (s *Session) Meta(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// ConnectedAt returns the connection time.
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// LastActivity returns the time of the last inbound message.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// BeginDisconnect marks the session as entering the disconnect sequence. It
// returns true for exactly one caller; later callers see false and skip the
// cleanup, however the teardown was triggered.
func (s *Session) BeginDisconnect() bool {
	return s.disconnecting.CompareAndSwap(false, true)
}

// Allow consumes one token from the session's rate limiter. It reports true
// when the message may proceed, or when limiting is disabled.
func (s *Session) Allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// Send serializes the envelope and queues it for delivery.
func (s *Session) Send(ctx context.Context, env collabd.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return s.SendRaw(ctx, data)
}

// SendRaw queues an already-serialized frame. The enqueue never blocks: a
// full queue means the client cannot keep up and is reported as a send
// failure so the caller can tear the session down.
func (s *Session) SendRaw(ctx context.Context, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.New(collabd.ErrConnectionClosed)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New(collabd.ErrContextCancelled)
	default:
	}

	select {
	case s.sendCh <- data:
		return nil
	default:
		return errors.New(collabd.ErrSendQueueFull)
	}
}

// Close closes the connection gracefully and cancels the session context.
// Closing an already-closed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	return s.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a specific close code and reason.
func (s *Session) CloseWithCode(ctx context.Context, code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(s.sendCh)
	return s.conn.Close()
}

// IsAlive reports whether the connection is still active.
func (s *Session) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. It exits on the first write failure; closing the
// connection there unblocks the read loop, which runs the disconnect
// cleanup.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}
