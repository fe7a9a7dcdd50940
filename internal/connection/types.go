package connection

import (
	"net/http"
	"time"

	"github.com/driftlock/wsbridge/internal/message"
)

// TimestampedMessage wraps a raw inbound frame with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the transport
	ReceivedAt time.Time // Local timestamp when the read returned
}

// ClientConfig configures a single transport connection.
type ClientConfig struct {
	URL              string        // WebSocket URL (ws:// or wss://)
	Header           http.Header   // Extra headers sent on the handshake
	Subprotocols     []string      // Requested protocol sub-names
	HandshakeTimeout time.Duration // Dial/handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keep-alive ping cadence
	StaleAfter       time.Duration // Max silence before the watchdog gives up
	BufferSize       int           // Inbound message channel capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		StaleAfter:       60 * time.Second,
		BufferSize:       1000,
	}
}

// Config configures the connection Manager. Set once before the first
// Connect; the manager never mutates it.
type Config struct {
	Endpoint     string            // WebSocket URL
	Subprotocols []string          // Protocol sub-names offered on dial
	Headers      map[string]string // Extra handshake headers
	AuthToken    string            // Bearer token, empty for none

	ConnectTimeout       time.Duration // Deadline for one connect attempt
	WriteTimeout         time.Duration // Transport write deadline
	HeartbeatInterval    time.Duration // Control heartbeat cadence while connected
	StaleAfter           time.Duration // Transport silence tolerated before reconnect
	MaxReconnectAttempts int           // Attempt ceiling before terminal failure
	ReconnectDelay       time.Duration // Fixed wait between attempts
	RequestTimeout       time.Duration // SendAndWait resolution window

	MaxMessageSize int  // Serialized envelope size cap, bytes
	Compression    bool // zstd-compress outbound envelopes

	RateLimitRequests int           // Sends admitted per rate-limit window
	RateLimitWindow   time.Duration // Rolling admission window
	BufferSize        int           // Inbound channel capacity
}

// DefaultConfig returns manager defaults; Endpoint must still be set.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         5 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		StaleAfter:           90 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		RequestTimeout:       10 * time.Second,
		MaxMessageSize:       1 << 20,
		RateLimitRequests:    100,
		RateLimitWindow:      time.Second,
		BufferSize:           1000,
	}
}

// ConnectionInfo is a point-in-time view of the manager. Pure read; no side
// effects.
type ConnectionInfo struct {
	State             State
	Endpoint          string
	ReconnectAttempts int
	QueueDepth        int
	SubscriptionCount int
	PendingCount      int
}

// Handler consumes a dispatched inbound message. Handlers run on the
// dispatch goroutine and must not block indefinitely.
type Handler func(*message.Message)

// SubscriptionID identifies one handler registration.
type SubscriptionID int64
