package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8765
	DefaultWorkspaceRoot     = "."
	DefaultTokenTTL          = 24 * time.Hour
	DefaultMessagesPerSecond = 100.0
	DefaultBurst             = 200
	DefaultLogLevel          = "info"
)

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.WorkspaceRoot == "" {
		c.Server.WorkspaceRoot = DefaultWorkspaceRoot
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.RateLimit.MessagesPerSecond == 0 {
		c.RateLimit.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}

	if c.Permissions == nil {
		c.Permissions = map[string]string{
			"file_operation": "write",
			"deployment":     "execute",
			"terminal_input": "execute",
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
