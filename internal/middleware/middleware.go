// Package middleware implements the ordered pipeline applied to every
// inbound envelope before dispatch, including "auth" and "ping". A stage may
// pass, transform, or reject; rejection halts the pipeline with no implicit
// error reply.
package middleware

import (
	"log/slog"
	"sync"

	"github.com/atelierhq/collabd"
)

// Pipeline is an ordered list of stages, applied in registration order.
// Append may race with Run on live sessions, so the stage list is guarded.
type Pipeline struct {
	mu     sync.RWMutex
	stages []collabd.Middleware
	logger *slog.Logger
}

// NewPipeline creates a pipeline. A nil logger uses slog.Default().
func NewPipeline(logger *slog.Logger, stages ...collabd.Middleware) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Append adds a stage after the existing ones. Safe to call while sessions
// are dispatching; in-flight messages keep the stage list they started with.
func (p *Pipeline) Append(m collabd.Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, m)
}

// Run applies every stage in order. Each stage receives the possibly
// transformed envelope from the prior one. The second return value is false
// when a stage rejected the message; no further stage runs.
func (p *Pipeline) Run(s collabd.Session, env collabd.Envelope) (collabd.Envelope, bool) {
	p.mu.RLock()
	stages := p.stages
	p.mu.RUnlock()

	for _, stage := range stages {
		result := stage.Process(s, env)
		if result.Rejected() {
			p.logger.Debug("message rejected by middleware",
				"stage", stage.Name(),
				"session_id", s.ID(),
				"type", env.Type())
			return nil, false
		}
		env = result.Envelope()
	}
	return env, true
}
