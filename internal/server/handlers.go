package server

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
	"github.com/atelierhq/collabd/internal/session"
)

// registerBuiltins installs the built-in message handlers. External
// collaborators are bound to their message types like any other handler; the
// router passes them the raw envelope and never inspects their replies.
func (s *Server) registerBuiltins(cfg Config) {
	s.RegisterHandler(collabd.MsgAuth, s.builtin(s.handleAuth))
	s.RegisterHandler(collabd.MsgLogout, s.builtin(s.handleLogout))
	s.RegisterHandler(collabd.MsgPing, s.builtin(s.handlePing))
	s.RegisterHandler(collabd.MsgSubscribe, s.builtin(s.handleSubscribe))
	s.RegisterHandler(collabd.MsgUnsubscribe, s.builtin(s.handleUnsubscribe))

	s.RegisterHandler(collabd.MsgCursorPosition, s.builtin(s.relay(collabd.MsgCursorUpdate, "position")))
	s.RegisterHandler(collabd.MsgSelectionChange, s.builtin(s.relay(collabd.MsgSelectionUpdate, "selection")))
	s.RegisterHandler(collabd.MsgDocumentChange, s.builtin(s.relay(collabd.MsgDocumentChange, "changes")))

	s.RegisterHandler(collabd.MsgTerminalInput, s.builtin(s.handleTerminalInput))
	s.RegisterHandler(collabd.MsgTerminalResize, s.builtin(s.handleTerminalResize))
	s.RegisterHandler(collabd.MsgGetSystemInfo, s.builtin(s.handleSystemInfo))
	s.RegisterHandler(collabd.MsgGetMetrics, s.builtin(s.handleMetrics))

	if cfg.FileOperations != nil {
		s.RegisterHandler(collabd.MsgFileOperation, cfg.FileOperations)
	}
	if cfg.Deployment != nil {
		s.RegisterHandler(collabd.MsgDeployment, cfg.Deployment)
	}
}

// builtin adapts a concrete-session handler to the public handler signature.
// The dispatcher only ever passes sessions owned by this server's registry.
func (s *Server) builtin(h func(ctx context.Context, sess *session.Session, env collabd.Envelope)) collabd.Handler {
	return func(ctx context.Context, cs collabd.Session, env collabd.Envelope) {
		if sess, ok := cs.(*session.Session); ok {
			h(ctx, sess, env)
		}
	}
}

// handleAuth runs the authentication flow. A request without a token issues
// a fresh one and grants the default permissions unconditionally; that open
// trust model suits single-user and LAN deployments, and Config.Authorizer
// is the pluggable credential check for presented tokens. On success the
// session joins its workspace room and the other members learn about it.
func (s *Server) handleAuth(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	token := env.String("token")

	if token == "" {
		issued, err := s.tokens.Issue(sess.ID(), sess.Workspace())
		if err != nil {
			s.logger.Error("token issue failed", "session_id", sess.ID(), "err", err)
			s.metrics.Error()
			s.sendError(ctx, sess, collabd.ErrInternalServer)
			return
		}

		s.grantAndJoin(sess)
		s.send(ctx, sess, collabd.Envelope{
			"type":        collabd.MsgAuthSuccess,
			"token":       issued,
			"permissions": sess.Permissions(),
		})
		s.notifyJoined(ctx, sess)
		return
	}

	claims, err := s.tokens.Validate(token)
	if err == nil && s.authorizer != nil {
		err = s.authorizer(claims)
	}
	if err != nil {
		s.sendError(ctx, sess, collabd.ErrInvalidToken)
		return
	}

	s.grantAndJoin(sess)
	s.send(ctx, sess, collabd.Envelope{
		"type":        collabd.MsgAuthSuccess,
		"permissions": sess.Permissions(),
	})
	s.notifyJoined(ctx, sess)
}

func (s *Server) grantAndJoin(sess *session.Session) {
	sess.SetAuthenticated(true)
	sess.Grant(collabd.PermRead, collabd.PermWrite, collabd.PermExecute)
	s.rooms.Join(sess.Workspace(), sess.ID())
}

func (s *Server) notifyJoined(ctx context.Context, sess *session.Session) {
	s.SendToRoom(ctx, sess.Workspace(), collabd.Envelope{
		"type":      collabd.MsgUserJoined,
		"client_id": sess.ID(),
		"timestamp": protocol.Timestamp(),
	}, sess.ID())
}

// handleLogout clears the authenticated flag and every granted permission.
// The session stays connected and may re-authenticate.
func (s *Server) handleLogout(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	sess.SetAuthenticated(false)
	sess.RevokeAll()

	s.send(ctx, sess, collabd.Envelope{"type": collabd.MsgLogoutSuccess})
}

func (s *Server) handlePing(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	s.send(ctx, sess, collabd.Envelope{
		"type":      collabd.MsgPong,
		"timestamp": protocol.Timestamp(),
	})
}

// handleSubscribe joins an arbitrary named room, independent of the
// workspace room. Requests without a channel are ignored.
func (s *Server) handleSubscribe(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	channel := env.String("channel")
	if channel == "" {
		return
	}

	s.rooms.Join(channel, sess.ID())
	s.send(ctx, sess, collabd.Envelope{
		"type":    collabd.MsgSubscribed,
		"channel": channel,
	})
}

func (s *Server) handleUnsubscribe(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	channel := env.String("channel")
	if channel == "" {
		return
	}

	s.rooms.Leave(channel, sess.ID())
	s.send(ctx, sess, collabd.Envelope{
		"type":    collabd.MsgUnsubscribed,
		"channel": channel,
	})
}

// relay builds the collaboration handlers: the relevant fields are broadcast
// to every other session in the sender's workspace room, with no
// transformation, merge, or persistence. Events without a file_path are
// dropped.
func (s *Server) relay(outType, field string) func(context.Context, *session.Session, collabd.Envelope) {
	return func(ctx context.Context, sess *session.Session, env collabd.Envelope) {
		filePath := env.String("file_path")
		if filePath == "" {
			return
		}

		s.SendToRoom(ctx, sess.Workspace(), collabd.Envelope{
			"type":      outType,
			"client_id": sess.ID(),
			"file_path": filePath,
			field:       env[field],
			"timestamp": protocol.Timestamp(),
		}, sess.ID())
	}
}

// handleTerminalInput echoes the command back. This is a placeholder, not a
// process-attached terminal.
func (s *Server) handleTerminalInput(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	s.send(ctx, sess, collabd.Envelope{
		"type":        collabd.MsgTerminalOutput,
		"terminal_id": env["terminal_id"],
		"output":      fmt.Sprintf("$ %s\n", env.String("input")),
		"timestamp":   protocol.Timestamp(),
	})
}

func (s *Server) handleTerminalResize(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	cols, _ := env.Int("cols")
	rows, _ := env.Int("rows")
	s.logger.Info("terminal resized",
		"session_id", sess.ID(),
		"terminal_id", env["terminal_id"],
		"cols", cols,
		"rows", rows)
}

func (s *Server) handleSystemInfo(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	hostname, _ := os.Hostname()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.send(ctx, sess, collabd.Envelope{
		"type":         collabd.MsgSystemInfo,
		"platform":     runtime.GOOS,
		"arch":         runtime.GOARCH,
		"go_version":   runtime.Version(),
		"hostname":     hostname,
		"cpu_count":    runtime.NumCPU(),
		"memory_alloc": mem.Alloc,
		"memory_sys":   mem.Sys,
		"timestamp":    protocol.Timestamp(),
	})
}

func (s *Server) handleMetrics(ctx context.Context, sess *session.Session, env collabd.Envelope) {
	s.send(ctx, sess, collabd.Envelope{
		"type":      collabd.MsgMetrics,
		"metrics":   s.metrics.Collect(),
		"timestamp": protocol.Timestamp(),
	})
}
