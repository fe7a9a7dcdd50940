package message

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Kind discriminates the message variants.
type Kind string

const (
	KindText    Kind = "text"
	KindBinary  Kind = "binary"
	KindControl Kind = "control"
)

// Command identifies a control message operation.
type Command string

const (
	CommandPing         Command = "ping"
	CommandPong         Command = "pong"
	CommandSubscribe    Command = "subscribe"
	CommandUnsubscribe  Command = "unsubscribe"
	CommandAuthenticate Command = "authenticate"
	CommandHeartbeat    Command = "heartbeat"
	CommandClose        Command = "close"
)

// Priority orders outbound messages. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	numPriorities = 4
)

// NumPriorities is the number of priority tiers.
const NumPriorities = numPriorities

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p < numPriorities
}

// Message is the tagged union carried over the connection. Exactly one of
// Text, Binary, or Control is non-nil, matching Kind.
type Message struct {
	ID        string
	Timestamp time.Time
	Kind      Kind

	Text    *Text
	Binary  *Binary
	Control *Control
}

// Text is a human-readable message.
type Text struct {
	Content  string
	Sender   string
	Metadata map[string]string
}

// Binary is an opaque payload with a content checksum computed at
// construction for receiver-side integrity verification. The checksum is
// not cryptographic authentication.
type Binary struct {
	Data     []byte
	Encoding string
	Checksum uint64
}

// Control is a protocol command.
type Control struct {
	Command    Command
	Parameters map[string]string
}

// NewText creates a text message with a fresh id.
func NewText(content, sender string, metadata map[string]string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      KindText,
		Text: &Text{
			Content:  content,
			Sender:   sender,
			Metadata: metadata,
		},
	}
}

// NewBinary creates a binary message with a fresh id. The content checksum
// is computed here and travels with the payload.
func NewBinary(data []byte, encoding string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      KindBinary,
		Binary: &Binary{
			Data:     data,
			Encoding: encoding,
			Checksum: xxhash.Sum64(data),
		},
	}
}

// NewControl creates a control message with a fresh id.
func NewControl(cmd Command, params map[string]string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      KindControl,
		Control: &Control{
			Command:    cmd,
			Parameters: params,
		},
	}
}

// NewControlReply creates a control message that answers req, reusing the
// request id so the peer can correlate it.
func NewControlReply(req *Message, cmd Command, params map[string]string) *Message {
	return &Message{
		ID:        req.ID,
		Timestamp: time.Now().UTC(),
		Kind:      KindControl,
		Control: &Control{
			Command:    cmd,
			Parameters: params,
		},
	}
}

// Verify recomputes the checksum over Data and compares it against the
// carried value.
func (b *Binary) Verify() bool {
	return xxhash.Sum64(b.Data) == b.Checksum
}

// IsControl reports whether m is a control message with the given command.
func (m *Message) IsControl(cmd Command) bool {
	return m.Kind == KindControl && m.Control != nil && m.Control.Command == cmd
}
