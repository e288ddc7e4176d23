// Package ws exposes the public constructors for the collabd WebSocket
// server.
package ws

import (
	"net/http"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/server"
)

type RateLimitConfig = server.RateLimitConfig
type CheckOriginFn = server.CheckOriginFn
type ServerConfig = server.Config

// New creates a collabd server from the configuration. The built-in
// middleware pipeline (logging, rate limiting, permission checks) and the
// built-in message handlers are installed; register additional handlers and
// stages before calling Start.
//
// Example:
//
//	cfg := ws.NewConfig(":8765", ws.DefaultRateLimitConfig(), ws.AllOrigins())
//	srv, err := ws.New(cfg)
func New(cfg ServerConfig) (collabd.Server, error) {
	return server.New(cfg)
}

// NewConfig assembles a server configuration with the given listen address,
// rate limit, and origin policy. Remaining fields (permission map, token
// settings, collaborators, logger) can be set on the returned value.
func NewConfig(addr string, rateLimit *RateLimitConfig, checkOrigin CheckOriginFn) ServerConfig {
	return ServerConfig{
		Addr:        addr,
		RateLimit:   rateLimit,
		CheckOrigin: checkOrigin,
	}
}

// AllOrigins returns an origin check that allows every origin. Development
// only; configure a real policy in production.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return server.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return server.NoRateLimit()
}

// DefaultPermissions is the default mapping from message type to the
// permission tag it requires.
func DefaultPermissions() map[string]string {
	return server.DefaultPermissions()
}
