// Package message defines the typed messages exchanged over the bridge
// connection and the codec that serializes them.
//
// A Message is a closed tagged union over three variants:
//   - Text: human-readable content with sender and metadata
//   - Binary: opaque payload with encoding hint and content checksum
//   - Control: protocol commands (ping, pong, heartbeat, close, ...)
//
// Every message carries a unique id assigned once at construction and a
// creation timestamp. The Codec produces a self-describing JSON envelope
// and optionally compresses it with zstd; the decoder detects compression
// from the frame prefix, so compressed and raw peers can interoperate as
// long as both sides are configured symmetrically.
package message
