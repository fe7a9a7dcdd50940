// Package metrics accumulates connection counters and latency statistics.
//
// Key metrics:
//   - connection count and reconnect attempts
//   - messages and bytes sent/received
//   - error, decode-failure, and heartbeat-failure counts
//   - running mean of request round-trip latency
//
// The Collector has no control flow of its own: it only records what the
// connection manager feeds it and serves read-only snapshots.
package metrics
