package middleware

import (
	"fmt"
	"log/slog"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
	"github.com/atelierhq/collabd/internal/session"
)

// Logging observes every inbound envelope. It never rejects.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates the logging stage.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

// Name identifies the stage in logs.
func (l *Logging) Name() string { return "logging" }

// Process logs the envelope and passes it through unchanged.
func (l *Logging) Process(s collabd.Session, env collabd.Envelope) collabd.Result {
	l.logger.Debug("inbound message",
		"session_id", s.ID(),
		"workspace", s.Workspace(),
		"type", env.Type())
	return collabd.Continue(env)
}

// RateLimit enforces the per-session token bucket. Sessions created without
// a limiter always pass; that is how disabled limiting is represented.
type RateLimit struct{}

// NewRateLimit creates the rate-limit stage.
func NewRateLimit() *RateLimit { return &RateLimit{} }

// Name identifies the stage in logs.
func (r *RateLimit) Name() string { return "rate_limit" }

// Process consumes one token; on exhaustion it sends the rate-limit error
// itself and rejects.
func (r *RateLimit) Process(s collabd.Session, env collabd.Envelope) collabd.Result {
	cs, ok := s.(*session.Session)
	if !ok || cs.Allow() {
		return collabd.Continue(env)
	}

	s.Send(s.Context(), protocol.Error(collabd.ErrRateLimited))
	return collabd.Reject()
}

// Permission rejects messages whose type requires a permission tag the
// session lacks. It applies only to authenticated sessions: unauthenticated
// traffic falls through so the dispatcher's auth gate reports the missing
// authentication instead.
type Permission struct {
	required map[string]string // message type -> permission tag
}

// NewPermission creates the permission stage from the type-to-tag map.
func NewPermission(required map[string]string) *Permission {
	if required == nil {
		required = map[string]string{}
	}
	return &Permission{required: required}
}

// Name identifies the stage in logs.
func (p *Permission) Name() string { return "permission" }

// Process checks the required tag; on a missing tag it sends the permission
// error itself and rejects, so no handler runs.
func (p *Permission) Process(s collabd.Session, env collabd.Envelope) collabd.Result {
	if !s.Authenticated() {
		return collabd.Continue(env)
	}

	tag, ok := p.required[env.Type()]
	if !ok || s.HasPermission(tag) {
		return collabd.Continue(env)
	}

	s.Send(s.Context(), protocol.Error(fmt.Sprintf(collabd.ErrPermDeniedFmt, tag)))
	return collabd.Reject()
}
