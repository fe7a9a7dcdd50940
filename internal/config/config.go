// Package config loads and validates the bridge configuration from YAML.
package config

import (
	"time"

	"github.com/driftlock/wsbridge/internal/connection"
)

// BridgeConfig is the root configuration for a bridge instance.
type BridgeConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Conn      ConnConfig      `yaml:"connection"`
	Messages  MessagesConfig  `yaml:"messages"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this bridge.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// EndpointConfig holds remote endpoint settings.
type EndpointConfig struct {
	URL          string            `yaml:"url"`
	Subprotocols []string          `yaml:"subprotocols"`
	Headers      map[string]string `yaml:"headers"`

	// AuthToken is the bearer token, usually provided via ${VAR}
	// substitution. AuthTokenFile points at a file holding the token
	// instead; the literal wins when both are set.
	AuthToken     string `yaml:"auth_token"`
	AuthTokenFile string `yaml:"auth_token_file"`
}

// ConnConfig holds connection lifecycle settings.
type ConnConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	StaleAfter           time.Duration `yaml:"stale_after"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// MessagesConfig holds wire codec settings.
type MessagesConfig struct {
	MaxSize     int  `yaml:"max_size"`
	Compression bool `yaml:"compression"`
}

// RateLimitConfig holds send admission settings.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Manager converts the loaded file into a connection.Config. The auth token
// must already be resolved (see auth.Resolve).
func (c *BridgeConfig) Manager(authToken string) connection.Config {
	return connection.Config{
		Endpoint:             c.Endpoint.URL,
		Subprotocols:         c.Endpoint.Subprotocols,
		Headers:              c.Endpoint.Headers,
		AuthToken:            authToken,
		ConnectTimeout:       c.Conn.ConnectTimeout,
		WriteTimeout:         c.Conn.WriteTimeout,
		HeartbeatInterval:    c.Conn.HeartbeatInterval,
		StaleAfter:           c.Conn.StaleAfter,
		MaxReconnectAttempts: c.Conn.MaxReconnectAttempts,
		ReconnectDelay:       c.Conn.ReconnectDelay,
		RequestTimeout:       c.Conn.RequestTimeout,
		MaxMessageSize:       c.Messages.MaxSize,
		Compression:          c.Messages.Compression,
		RateLimitRequests:    c.RateLimit.Requests,
		RateLimitWindow:      c.RateLimit.Window,
		BufferSize:           c.Conn.BufferSize,
	}
}
