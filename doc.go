// Package collabd provides the real-time session and message-routing core of
// a collaborative IDE backend.
//
// The server accepts persistent WebSocket connections from editor clients,
// authenticates them with signed time-limited tokens, organizes them into
// workspace-scoped rooms, and routes typed JSON envelopes through a
// configurable middleware pipeline to registered handlers, with best-effort
// broadcast to room members and clean teardown on disconnect.
//
// # Architecture
//
// Every message is a JSON object with a required "type" field selecting the
// handler. Handlers are registered per type, so collaboration events, file
// operations, and deployment requests each get their own processing logic
// without the router inspecting payloads. Before dispatch, every envelope
// passes through an ordered middleware pipeline (logging, rate limiting,
// permission checks by default); any stage may transform or veto the message.
//
// # Quick Start
//
//	import (
//	    "github.com/atelierhq/collabd"
//	    "github.com/atelierhq/collabd/ws"
//	)
//
//	cfg := ws.NewConfig(":8765", ws.DefaultRateLimitConfig(), ws.AllOrigins())
//	server := ws.New(cfg)
//
//	// Register a custom handler alongside the built-ins
//	server.RegisterHandler("code_completion", func(ctx context.Context, s collabd.Session, env collabd.Envelope) {
//	    s.Send(ctx, collabd.Envelope{
//	        "type":        "code_completions",
//	        "completions": complete(env.String("prefix")),
//	        "request_id":  env["request_id"],
//	    })
//	})
//
//	server.Start(ctx)
//
// # Sessions and rooms
//
// Each connection gets a session with a fresh unique id, the workspace name
// derived from the URL path (default "default"), and an unauthenticated
// state. Completing the "auth" flow grants permission tags and joins the
// session to its workspace room; "subscribe"/"unsubscribe" manage ad-hoc
// rooms on top. Disconnecting removes the session from every room before it
// leaves the registry, and the remaining workspace members receive a
// "user_left" event.
//
// # Tokens
//
// Auth tokens are signed JWTs binding a session to a workspace, valid for a
// fixed window (24 hours by default). Validity is determined entirely by
// signature and expiry against a process-wide secret generated at server
// start, so a restart invalidates all outstanding tokens.
//
// # Error isolation
//
// Malformed frames, unknown message types, and handler panics are reported to
// the sending client and never close the connection or crash the server; only
// transport failures tear a session down. Per-session message handling is
// strictly sequential, while different sessions are handled concurrently.
//
// # Rate Limiting
//
// Each session has an independent token-bucket limiter:
//
//	// 100 messages/second, burst 200
//	cfg := ws.NewConfig(":8765", ws.DefaultRateLimitConfig(), ws.AllOrigins())
//
//	// Disabled
//	cfg := ws.NewConfig(":8765", ws.NoRateLimit(), ws.AllOrigins())
//
// When the limit is exceeded the client receives a rate-limit error envelope
// and the message is dropped; the connection stays open.
package collabd
