package connection

import (
	"sync"

	"github.com/driftlock/wsbridge/internal/message"
)

// queued pairs a message with the priority it was enqueued at.
type queued struct {
	msg      *message.Message
	priority message.Priority
}

// outboundQueue buffers messages accepted while the transport is down.
// One FIFO tier per priority; drain empties tiers in descending priority.
type outboundQueue struct {
	mu    sync.Mutex
	tiers [message.NumPriorities][]queued
	size  int
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{}
}

// push appends a message to its priority tier.
func (q *outboundQueue) push(msg *message.Message, priority message.Priority) {
	if !priority.Valid() {
		priority = message.PriorityNormal
	}

	q.mu.Lock()
	q.tiers[priority] = append(q.tiers[priority], queued{msg: msg, priority: priority})
	q.size++
	q.mu.Unlock()
}

// drain removes and returns every queued message, highest priority first,
// FIFO within a tier.
func (q *outboundQueue) drain() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	out := make([]queued, 0, q.size)
	for p := int(message.NumPriorities) - 1; p >= 0; p-- {
		out = append(out, q.tiers[p]...)
		q.tiers[p] = nil
	}
	q.size = 0

	return out
}

// restore puts messages back at the front of their tiers, preserving order.
// Used when a flush fails partway through.
func (q *outboundQueue) restore(items []queued) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Walk backwards so prepends keep the original order.
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		q.tiers[it.priority] = append([]queued{it}, q.tiers[it.priority]...)
		q.size++
	}
}

// depth returns the number of queued messages.
func (q *outboundQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// clear discards all queued messages and returns how many were dropped.
func (q *outboundQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	for p := range q.tiers {
		q.tiers[p] = nil
	}
	q.size = 0

	return n
}
