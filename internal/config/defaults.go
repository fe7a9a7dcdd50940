package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultStaleAfter           = 90 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 1 * time.Second
	DefaultRequestTimeout       = 10 * time.Second
	DefaultBufferSize           = 1000
	DefaultMaxMessageSize       = 1 << 20
	DefaultRateLimitRequests    = 100
	DefaultRateLimitWindow      = 1 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *BridgeConfig) applyDefaults() {
	// Connection defaults
	if c.Conn.ConnectTimeout == 0 {
		c.Conn.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Conn.WriteTimeout == 0 {
		c.Conn.WriteTimeout = DefaultWriteTimeout
	}
	if c.Conn.HeartbeatInterval == 0 {
		c.Conn.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Conn.StaleAfter == 0 {
		c.Conn.StaleAfter = DefaultStaleAfter
	}
	if c.Conn.MaxReconnectAttempts == 0 {
		c.Conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Conn.ReconnectDelay == 0 {
		c.Conn.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Conn.RequestTimeout == 0 {
		c.Conn.RequestTimeout = DefaultRequestTimeout
	}
	if c.Conn.BufferSize == 0 {
		c.Conn.BufferSize = DefaultBufferSize
	}

	// Messages defaults
	if c.Messages.MaxSize == 0 {
		c.Messages.MaxSize = DefaultMaxMessageSize
	}

	// Rate limit defaults
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = DefaultRateLimitRequests
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
