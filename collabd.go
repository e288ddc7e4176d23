package collabd

import (
	"context"
	"time"
)

// Server is the session and message-routing core of the collabd backend.
//
// It accepts persistent WebSocket connections from editor clients, organizes
// them into workspace-scoped rooms, and routes typed JSON envelopes through
// the middleware pipeline to registered handlers.
//
// Example usage:
//
//	cfg := ws.NewConfig(":8765", nil, ws.AllOrigins())
//	server := ws.New(cfg)
//
//	server.RegisterHandler("code_completion", func(ctx context.Context, s collabd.Session, env collabd.Envelope) {
//	    s.Send(ctx, collabd.Envelope{"type": "code_completions", "completions": complete(env)})
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start starts the WebSocket server and begins accepting connections.
	// The server runs until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running or if the listen
	// address cannot be bound.
	Start(ctx context.Context) error

	// Stop gracefully stops the server and disconnects all sessions,
	// running the full disconnect cleanup for each.
	Stop(ctx context.Context) error

	// RegisterHandler binds a handler to a message type. Registering a
	// handler for a type that already has one replaces the earlier
	// registration.
	//
	// Handlers communicate results by sending envelopes back through the
	// session or the broadcast methods; they have no return value. A panic
	// inside a handler is caught at the dispatch boundary, reported to the
	// client as an internal error, and never terminates the connection.
	RegisterHandler(msgType string, handler Handler)

	// Use appends a middleware stage to the pipeline. Stages run in
	// registration order on every inbound envelope, including "auth" and
	// "ping", before any handler is invoked. Use may be called after Start;
	// messages already in flight keep the pipeline they started with.
	Use(m Middleware)

	// SendTo serializes the envelope and writes it to exactly one session.
	// A delivery failure triggers the disconnect cleanup of that session;
	// delivery is at-most-once and never retried.
	SendTo(ctx context.Context, sessionID string, env Envelope) error

	// SendToRoom delivers the envelope to every current member of the room
	// except excludeID. Membership is snapshotted before sending, so a
	// session disconnecting mid-broadcast cannot corrupt the iteration.
	// Pass excludeID "" to deliver to all members.
	SendToRoom(ctx context.Context, roomName string, env Envelope, excludeID string)

	// BroadcastAll delivers the envelope to every live session except
	// excludeID.
	BroadcastAll(ctx context.Context, env Envelope, excludeID string)
}

// Session represents one live client connection and its authentication and
// permission state. Sessions are owned by the server's registry; a session is
// removed from the registry and from every room exactly once, on disconnect
// or on an unrecoverable send failure.
type Session interface {
	// ID returns the unique identifier assigned at connect time. IDs are
	// never reused while the originating session is still registered.
	ID() string

	// Workspace returns the workspace name derived from the connection
	// path, or "default" when the path carries none.
	Workspace() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the session's lifecycle context, cancelled when the
	// connection closes. Goroutines tied to the session should watch it.
	Context() context.Context

	// Authenticated reports whether the session has completed the auth
	// flow. Unauthenticated sessions may only invoke "auth" and "ping".
	Authenticated() bool

	// SetAuthenticated flips the authenticated flag. Called by the auth
	// and logout handlers while handling this session's own message.
	SetAuthenticated(v bool)

	// Permissions returns a copy of the granted permission tags.
	Permissions() []string

	// HasPermission reports whether the session holds the given tag.
	HasPermission(tag string) bool

	// Grant adds permission tags to the session.
	Grant(tags ...string)

	// RevokeAll clears every granted permission. Used on logout.
	RevokeAll()

	// SetMeta stores a free-form metadata value on the session.
	SetMeta(key string, value any)

	// Meta returns a previously stored metadata value.
	Meta(key string) (any, bool)

	// ConnectedAt returns the time the connection was established.
	ConnectedAt() time.Time

	// LastActivity returns the time of the last inbound message.
	LastActivity() time.Time

	// Send serializes the envelope and queues it for delivery. It returns
	// an error if the connection is closed, the send queue is full, or the
	// context is cancelled. Delivery is best-effort; the write itself
	// happens asynchronously.
	Send(ctx context.Context, env Envelope) error

	// Close closes the connection gracefully and cancels the session
	// context. Closing an already-closed session is a no-op.
	Close(ctx context.Context) error

	// IsAlive reports whether the connection is still active.
	IsAlive() bool
}

// Handler is the unit of business logic bound to one message type. It runs
// after the middleware pipeline accepted the envelope and the auth gate
// passed. Per-session invocation is strictly sequential; handlers for
// different sessions run concurrently.
type Handler func(ctx context.Context, s Session, env Envelope)

// Middleware is a pipeline stage applied to every inbound envelope before
// dispatch. A stage may pass the envelope through, transform it, or reject
// it. Rejection halts the pipeline for that message with no further
// processing and no implicit error reply; a stage that wants the client to
// see an error must send it itself before rejecting.
type Middleware interface {
	// Name identifies the stage in logs.
	Name() string

	// Process inspects or transforms the envelope. Later stages receive
	// the envelope returned by earlier ones.
	Process(s Session, env Envelope) Result
}

// Result is the outcome of a middleware stage: either the (possibly
// transformed) envelope continues down the pipeline, or the message is
// rejected. Rejection is an expected, frequent outcome, not an exceptional
// one, so it is a value rather than an error.
type Result struct {
	env      Envelope
	rejected bool
}

// Continue passes env to the next stage.
func Continue(env Envelope) Result {
	return Result{env: env}
}

// Reject terminates the pipeline for this message.
func Reject() Result {
	return Result{rejected: true}
}

// Rejected reports whether the stage vetoed the message.
func (r Result) Rejected() bool {
	return r.rejected
}

// Envelope returns the envelope to hand to the next stage. It is only
// meaningful when Rejected is false.
func (r Result) Envelope() Envelope {
	return r.env
}
