package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/collabd"
)

// stubSession implements collabd.Session and records outbound envelopes.
type stubSession struct {
	id            string
	workspace     string
	authenticated bool
	permissions   map[string]bool
	sent          []collabd.Envelope
}

func newStubSession() *stubSession {
	return &stubSession{
		id:          "stub-1",
		workspace:   "default",
		permissions: map[string]bool{},
	}
}

func (s *stubSession) ID() string                  { return s.id }
func (s *stubSession) Workspace() string           { return s.workspace }
func (s *stubSession) RemoteAddr() string          { return "127.0.0.1:1" }
func (s *stubSession) Context() context.Context    { return context.Background() }
func (s *stubSession) Authenticated() bool         { return s.authenticated }
func (s *stubSession) SetAuthenticated(v bool)     { s.authenticated = v }
func (s *stubSession) HasPermission(t string) bool { return s.permissions[t] }
func (s *stubSession) Grant(tags ...string) {
	for _, t := range tags {
		s.permissions[t] = true
	}
}
func (s *stubSession) RevokeAll()                 { s.permissions = map[string]bool{} }
func (s *stubSession) SetMeta(string, any)        {}
func (s *stubSession) Meta(string) (any, bool)    { return nil, false }
func (s *stubSession) ConnectedAt() time.Time     { return time.Time{} }
func (s *stubSession) LastActivity() time.Time    { return time.Time{} }
func (s *stubSession) Close(context.Context) error { return nil }
func (s *stubSession) IsAlive() bool              { return true }

func (s *stubSession) Permissions() []string {
	out := make([]string, 0, len(s.permissions))
	for t := range s.permissions {
		out = append(out, t)
	}
	return out
}

func (s *stubSession) Send(_ context.Context, env collabd.Envelope) error {
	s.sent = append(s.sent, env)
	return nil
}

// namedStage is a configurable test stage.
type namedStage struct {
	name    string
	process func(collabd.Session, collabd.Envelope) collabd.Result
}

func (n *namedStage) Name() string { return n.name }
func (n *namedStage) Process(s collabd.Session, env collabd.Envelope) collabd.Result {
	return n.process(s, env)
}

func TestPipelineOrderAndTransform(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) *namedStage {
		return &namedStage{name: name, process: func(_ collabd.Session, env collabd.Envelope) collabd.Result {
			order = append(order, name)
			out := env.Clone()
			out[name] = true
			return collabd.Continue(out)
		}}
	}

	p := NewPipeline(nil, mark("first"), mark("second"), mark("third"))
	env, ok := p.Run(newStubSession(), collabd.Envelope{"type": "ping"})

	require.True(t, ok)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	for _, name := range order {
		assert.Equal(t, true, env[name], "stage %s transform lost", name)
	}
}

func TestPipelineRejectHalts(t *testing.T) {
	t.Parallel()

	ran := false
	p := NewPipeline(nil,
		&namedStage{name: "reject", process: func(collabd.Session, collabd.Envelope) collabd.Result {
			return collabd.Reject()
		}},
		&namedStage{name: "after", process: func(_ collabd.Session, env collabd.Envelope) collabd.Result {
			ran = true
			return collabd.Continue(env)
		}},
	)

	env, ok := p.Run(newStubSession(), collabd.Envelope{"type": "ping"})
	assert.False(t, ok)
	assert.Nil(t, env)
	assert.False(t, ran, "stage after a rejection must not run")
}

func TestLoggingNeverRejects(t *testing.T) {
	t.Parallel()

	stage := NewLogging(nil)
	for _, typ := range []string{"auth", "ping", "file_operation", "unknown_thing"} {
		result := stage.Process(newStubSession(), collabd.Envelope{"type": typ})
		assert.False(t, result.Rejected(), "logging rejected %s", typ)
	}
}

func TestRateLimitPassThroughForStub(t *testing.T) {
	t.Parallel()

	// Sessions without the concrete limiter-backed type always pass.
	stage := NewRateLimit()
	result := stage.Process(newStubSession(), collabd.Envelope{"type": "ping"})
	assert.False(t, result.Rejected())
}

func TestPermissionDeniesMissingTag(t *testing.T) {
	t.Parallel()

	stage := NewPermission(map[string]string{
		"file_operation": collabd.PermWrite,
		"deployment":     collabd.PermExecute,
	})

	s := newStubSession()
	s.SetAuthenticated(true)
	s.Grant(collabd.PermRead)

	result := stage.Process(s, collabd.Envelope{"type": "file_operation"})
	assert.True(t, result.Rejected())

	// The stage must have sent the error itself before rejecting.
	require.Len(t, s.sent, 1)
	assert.Equal(t, collabd.MsgError, s.sent[0].Type())
	assert.Equal(t, "Permission denied: write required", s.sent[0].String("error"))
}

func TestPermissionAllowsGrantedTag(t *testing.T) {
	t.Parallel()

	stage := NewPermission(map[string]string{"file_operation": collabd.PermWrite})

	s := newStubSession()
	s.SetAuthenticated(true)
	s.Grant(collabd.PermWrite)

	result := stage.Process(s, collabd.Envelope{"type": "file_operation"})
	assert.False(t, result.Rejected())
	assert.Empty(t, s.sent)
}

func TestPermissionSkipsUnauthenticated(t *testing.T) {
	t.Parallel()

	// Unauthenticated sessions fall through to the dispatcher auth gate so
	// the client sees the authentication error, not a permission one.
	stage := NewPermission(map[string]string{"file_operation": collabd.PermWrite})

	s := newStubSession()
	result := stage.Process(s, collabd.Envelope{"type": "file_operation"})
	assert.False(t, result.Rejected())
	assert.Empty(t, s.sent)
}

func TestPermissionIgnoresUnmappedTypes(t *testing.T) {
	t.Parallel()

	stage := NewPermission(nil)
	s := newStubSession()
	s.SetAuthenticated(true)

	result := stage.Process(s, collabd.Envelope{"type": "cursor_position"})
	assert.False(t, result.Rejected())
}

// Stages may be appended while sessions are dispatching; in-flight runs keep
// the stage list they started with and later runs see the new stage.
func TestAppendWhileRunning(t *testing.T) {
	t.Parallel()

	passThrough := func(_ collabd.Session, env collabd.Envelope) collabd.Result {
		return collabd.Continue(env)
	}
	p := NewPipeline(nil, &namedStage{name: "first", process: passThrough})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s := newStubSession()
		for i := 0; i < 1000; i++ {
			_, ok := p.Run(s, collabd.Envelope{"type": "ping"})
			assert.True(t, ok)
		}
	}()

	for i := 0; i < 50; i++ {
		p.Append(&namedStage{name: "late", process: passThrough})
	}
	<-done

	var count int
	counting := &namedStage{name: "count", process: func(_ collabd.Session, env collabd.Envelope) collabd.Result {
		count++
		return collabd.Continue(env)
	}}
	p.Append(counting)

	_, ok := p.Run(newStubSession(), collabd.Envelope{"type": "ping"})
	require.True(t, ok)
	assert.Equal(t, 1, count)
}
