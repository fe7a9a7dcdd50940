package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates counters and latency statistics. All record
// operations are safe for concurrent use. Counters only grow; Reset is the
// single explicit way to zero them.
type Collector struct {
	connections       atomic.Int64
	messagesSent      atomic.Int64
	messagesReceived  atomic.Int64
	bytesSent         atomic.Int64
	bytesReceived     atomic.Int64
	reconnectAttempts atomic.Int64
	errors            atomic.Int64
	decodeFailures    atomic.Int64
	heartbeatFailures atomic.Int64

	latMu    sync.Mutex
	latCount int64
	latMean  float64 // nanoseconds
}

// Stats is a read-only snapshot of the collector.
type Stats struct {
	Connections       int64
	MessagesSent      int64
	MessagesReceived  int64
	BytesSent         int64
	BytesReceived     int64
	ReconnectAttempts int64
	Errors            int64
	DecodeFailures    int64
	HeartbeatFailures int64
	LatencySamples    int64
	AvgLatency        time.Duration
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordConnection counts a successfully established connection.
func (c *Collector) RecordConnection() {
	c.connections.Add(1)
}

// RecordSent counts one outbound message of the given wire size.
func (c *Collector) RecordSent(bytes int) {
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(bytes))
}

// RecordReceived counts one inbound message of the given wire size.
func (c *Collector) RecordReceived(bytes int) {
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(int64(bytes))
}

// RecordError counts a connection-level error.
func (c *Collector) RecordError() {
	c.errors.Add(1)
}

// RecordReconnectAttempt counts a scheduled reconnection attempt.
func (c *Collector) RecordReconnectAttempt() {
	c.reconnectAttempts.Add(1)
}

// RecordDecodeFailure counts an inbound frame dropped as unparseable.
func (c *Collector) RecordDecodeFailure() {
	c.decodeFailures.Add(1)
}

// RecordHeartbeatFailure counts a heartbeat that could not be sent.
func (c *Collector) RecordHeartbeatFailure() {
	c.heartbeatFailures.Add(1)
}

// RecordLatencySample folds one round-trip duration into the running mean.
// Memory stays bounded: only the count and the mean are kept.
func (c *Collector) RecordLatencySample(d time.Duration) {
	c.latMu.Lock()
	defer c.latMu.Unlock()
	c.latCount++
	c.latMean += (float64(d) - c.latMean) / float64(c.latCount)
}

// Snapshot returns the current values.
func (c *Collector) Snapshot() Stats {
	c.latMu.Lock()
	count := c.latCount
	mean := c.latMean
	c.latMu.Unlock()

	return Stats{
		Connections:       c.connections.Load(),
		MessagesSent:      c.messagesSent.Load(),
		MessagesReceived:  c.messagesReceived.Load(),
		BytesSent:         c.bytesSent.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		ReconnectAttempts: c.reconnectAttempts.Load(),
		Errors:            c.errors.Load(),
		DecodeFailures:    c.decodeFailures.Load(),
		HeartbeatFailures: c.heartbeatFailures.Load(),
		LatencySamples:    count,
		AvgLatency:        time.Duration(mean),
	}
}

// Reset zeroes every counter and the latency mean.
func (c *Collector) Reset() {
	c.connections.Store(0)
	c.messagesSent.Store(0)
	c.messagesReceived.Store(0)
	c.bytesSent.Store(0)
	c.bytesReceived.Store(0)
	c.reconnectAttempts.Store(0)
	c.errors.Store(0)
	c.decodeFailures.Store(0)
	c.heartbeatFailures.Store(0)

	c.latMu.Lock()
	c.latCount = 0
	c.latMean = 0
	c.latMu.Unlock()
}
