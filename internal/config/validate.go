package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Endpoint.URL == "" {
		return errors.New("endpoint.url is required")
	}
	u, err := url.Parse(c.Endpoint.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("endpoint.url must be a ws:// or wss:// URL, got %q", c.Endpoint.URL)
	}

	if c.Conn.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Conn.ReconnectDelay <= 0 {
		return errors.New("connection.reconnect_delay must be > 0")
	}
	if c.Conn.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}

	if c.Messages.MaxSize < 1 {
		return errors.New("messages.max_size must be >= 1")
	}

	if c.RateLimit.Requests < 1 {
		return errors.New("rate_limit.requests must be >= 1")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.window must be > 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}
