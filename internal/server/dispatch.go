package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
	"github.com/atelierhq/collabd/internal/session"
)

// dispatch routes one inbound text frame: decode, middleware pipeline, auth
// gate, handler lookup, invoke. Protocol and handler errors are reported to
// the sender and never close the connection.
func (s *Server) dispatch(ctx context.Context, sess *session.Session, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingType) {
			s.sendError(ctx, sess, collabd.ErrMissingType)
		} else {
			s.sendError(ctx, sess, collabd.ErrInvalidJSON)
		}
		return
	}

	env, ok := s.pipeline.Run(sess, env)
	if !ok {
		// The rejecting stage replied if it wanted to; stop silently.
		return
	}

	msgType := env.Type()
	if msgType != collabd.MsgAuth && msgType != collabd.MsgPing && !sess.Authenticated() {
		s.sendError(ctx, sess, collabd.ErrAuthRequired)
		return
	}

	s.handlersMu.RLock()
	handler, found := s.handlers[msgType]
	s.handlersMu.RUnlock()
	if !found {
		// A non-string type decodes to an empty msgType; report the raw
		// value the client sent.
		label := msgType
		if label == "" {
			label = fmt.Sprint(env["type"])
		}
		s.sendError(ctx, sess, fmt.Sprintf(collabd.ErrUnknownTypeFmt, label))
		return
	}

	s.invoke(ctx, sess, env, handler)
}

// invoke runs the handler with panic isolation. A handler fault is logged,
// reported to the client as a generic internal error, and counted; it never
// terminates the connection or the dispatcher.
func (s *Server) invoke(ctx context.Context, sess *session.Session, env collabd.Envelope, handler collabd.Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"session_id", sess.ID(),
				"type", env.Type(),
				"panic", r,
				"stack", string(debug.Stack()))
			s.metrics.Error()
			s.sendError(ctx, sess, collabd.ErrInternalServer)
		}
	}()

	handler(ctx, sess, env)
}

// sendError delivers the standard error envelope to the session.
func (s *Server) sendError(ctx context.Context, sess *session.Session, msg string) {
	s.send(ctx, sess, protocol.Error(msg))
}
