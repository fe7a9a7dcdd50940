package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/driftlock/wsbridge/internal/message"
)

// subscription is one registered handler for a message kind.
type subscription struct {
	id      SubscriptionID
	handler Handler
}

// dispatcher routes decoded inbound messages to kind-keyed subscribers and
// resolves pending request/response correlation. Handlers for one kind run
// in registration order on the dispatch goroutine.
type dispatcher struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[message.Kind][]subscription
	nextID atomic.Int64

	pending *pendingStore

	// onControl, when set, sees every control message before subscriber
	// delivery. Used by the manager for ping replies and close handling.
	onControl func(*message.Message)

	// onResolved, when set, observes every resolved pending request.
	onResolved func(*pendingRequest)
}

func newDispatcher(pending *pendingStore, logger *slog.Logger) *dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &dispatcher{
		logger:  logger,
		subs:    make(map[message.Kind][]subscription),
		pending: pending,
	}
}

// subscribe registers a handler for a message kind.
func (d *dispatcher) subscribe(kind message.Kind, handler Handler) SubscriptionID {
	id := SubscriptionID(d.nextID.Add(1))

	d.mu.Lock()
	d.subs[kind] = append(d.subs[kind], subscription{id: id, handler: handler})
	d.mu.Unlock()

	return id
}

// unsubscribe removes a handler registration. Returns false if the ID is
// unknown.
func (d *dispatcher) unsubscribe(id SubscriptionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for kind, subs := range d.subs {
		for i, sub := range subs {
			if sub.id == id {
				d.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}

	return false
}

// subscriptionCount returns the number of active registrations.
func (d *dispatcher) subscriptionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, subs := range d.subs {
		n += len(subs)
	}

	return n
}

// dispatch routes one decoded message: pending resolution first, then the
// control hook, then kind subscribers in registration order.
func (d *dispatcher) dispatch(msg *message.Message) {
	if p := d.pending.complete(msg.ID, msg); p != nil {
		d.logger.Debug("resolved pending request", "id", msg.ID)
		if d.onResolved != nil {
			d.onResolved(p)
		}
	}

	if msg.Kind == message.KindControl && d.onControl != nil {
		d.onControl(msg)
	}

	d.mu.RLock()
	subs := d.subs[msg.Kind]
	d.mu.RUnlock()

	for _, sub := range subs {
		d.invoke(sub, msg)
	}
}

// invoke runs one handler, recovering panics so a bad subscriber cannot
// take down the read loop.
func (d *dispatcher) invoke(sub subscription, msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"subscription", sub.id,
				"message_id", msg.ID,
				"panic", r,
			)
		}
	}()

	sub.handler(msg)
}
