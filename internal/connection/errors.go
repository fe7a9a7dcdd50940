package connection

import (
	"errors"
	"fmt"
)

// Connection errors.
var (
	ErrInvalidEndpoint      = errors.New("invalid endpoint")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConnectionTimeout    = errors.New("connection timeout")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotConnected         = errors.New("not connected")
	ErrAlreadyConnected     = errors.New("already connected or connecting")
	ErrStaleConnection      = errors.New("connection stale (no ping)")
	ErrAlreadyClosed        = errors.New("already closed")
)

// Send and request errors.
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRequestTimeout    = errors.New("request timed out")
	ErrCancelled         = errors.New("request cancelled")
	ErrDuplicateRequest  = errors.New("request id already pending")
)

// ServerError is a failure reported by the remote peer.
type ServerError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
