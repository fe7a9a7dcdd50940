package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Codec errors.
var (
	ErrMessageTooLarge        = errors.New("message exceeds maximum size")
	ErrMessageEncodingFailed  = errors.New("message encoding failed")
	ErrMessageDecodingFailed  = errors.New("message decoding failed")
	ErrChecksumMismatch       = errors.New("binary payload checksum mismatch")
	ErrInvalidMessage         = errors.New("invalid message")
	errUnknownVariant         = errors.New("unknown message variant")
	errMissingDiscriminant    = errors.New("no variant fields present")
	errCompressionUnavailable = errors.New("compression not initialized")
)

// zstd frames start with this magic number; the decoder uses it to tell
// compressed envelopes from raw JSON.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// envelope is the self-describing wire form. Variant fields are pointers so
// the decoder can distinguish absent from zero-valued.
type envelope struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Type      Kind      `json:"type,omitempty"`

	// Text variant.
	Content  *string           `json:"content,omitempty"`
	Sender   string            `json:"sender,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Binary variant.
	Data     *[]byte `json:"data,omitempty"`
	Encoding string  `json:"encoding,omitempty"`
	Checksum uint64  `json:"checksum,omitempty"`

	// Control variant.
	Command    *Command          `json:"command,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// CodecOptions configures a Codec.
type CodecOptions struct {
	// MaxMessageSize bounds the serialized (pre-compression) envelope in
	// bytes. Zero disables the check.
	MaxMessageSize int

	// Compression enables zstd compression of outbound envelopes. The
	// decoder always accepts both compressed and raw frames.
	Compression bool

	// VerifyChecksums rejects binary messages whose payload does not match
	// the carried checksum.
	VerifyChecksums bool
}

// Codec serializes messages to and from the wire. Safe for concurrent use;
// the zstd encoder and decoder are built once and reused.
type Codec struct {
	opts CodecOptions

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec. The zstd coders are always constructed so that
// a codec with compression disabled can still decode compressed input from
// a symmetric peer.
func NewCodec(opts CodecOptions) (*Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Codec{opts: opts, enc: enc, dec: dec}, nil
}

// Encode serializes m. The size limit applies to the serialized envelope
// before compression; oversized messages fail rather than truncate.
func (c *Codec) Encode(m *Message) ([]byte, error) {
	if m == nil || m.ID == "" {
		return nil, ErrInvalidMessage
	}

	env, err := toEnvelope(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageEncodingFailed, err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageEncodingFailed, err)
	}

	if c.opts.MaxMessageSize > 0 && len(data) > c.opts.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), c.opts.MaxMessageSize)
	}

	if c.opts.Compression {
		if c.enc == nil {
			return nil, errCompressionUnavailable
		}
		data = c.enc.EncodeAll(data, nil)
	}

	return data, nil
}

// Decode parses wire bytes back into a message. Compressed frames are
// detected by prefix and decompressed first; anything else is treated as a
// raw envelope.
func (c *Codec) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrMessageDecodingFailed
	}

	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrMessageDecodingFailed, err)
		}
		data = raw
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageDecodingFailed, err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMessageDecodingFailed)
	}

	msg, err := fromEnvelope(&env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageDecodingFailed, err)
	}

	if c.opts.VerifyChecksums && msg.Kind == KindBinary && !msg.Binary.Verify() {
		return nil, fmt.Errorf("%w: %v", ErrMessageDecodingFailed, ErrChecksumMismatch)
	}

	return msg, nil
}

func toEnvelope(m *Message) (*envelope, error) {
	env := &envelope{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Type:      m.Kind,
	}

	switch m.Kind {
	case KindText:
		if m.Text == nil {
			return nil, errUnknownVariant
		}
		env.Content = &m.Text.Content
		env.Sender = m.Text.Sender
		env.Metadata = m.Text.Metadata
	case KindBinary:
		if m.Binary == nil {
			return nil, errUnknownVariant
		}
		data := m.Binary.Data
		if data == nil {
			data = []byte{}
		}
		env.Data = &data
		env.Encoding = m.Binary.Encoding
		env.Checksum = m.Binary.Checksum
	case KindControl:
		if m.Control == nil {
			return nil, errUnknownVariant
		}
		env.Command = &m.Control.Command
		env.Parameters = m.Control.Parameters
	default:
		return nil, errUnknownVariant
	}

	return env, nil
}

func fromEnvelope(env *envelope) (*Message, error) {
	kind := env.Type
	if kind == "" {
		// Self-describing field absent: structural attempts in fixed order.
		switch {
		case env.Content != nil:
			kind = KindText
		case env.Data != nil:
			kind = KindBinary
		case env.Command != nil:
			kind = KindControl
		default:
			return nil, errMissingDiscriminant
		}
	}

	msg := &Message{
		ID:        env.ID,
		Timestamp: env.Timestamp,
		Kind:      kind,
	}

	switch kind {
	case KindText:
		if env.Content == nil {
			return nil, errMissingDiscriminant
		}
		msg.Text = &Text{
			Content:  *env.Content,
			Sender:   env.Sender,
			Metadata: env.Metadata,
		}
	case KindBinary:
		if env.Data == nil {
			return nil, errMissingDiscriminant
		}
		msg.Binary = &Binary{
			Data:     *env.Data,
			Encoding: env.Encoding,
			Checksum: env.Checksum,
		}
	case KindControl:
		if env.Command == nil {
			return nil, errMissingDiscriminant
		}
		msg.Control = &Control{
			Command:    *env.Command,
			Parameters: env.Parameters,
		}
	default:
		return nil, errUnknownVariant
	}

	return msg, nil
}
