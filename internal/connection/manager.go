package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/driftlock/wsbridge/internal/message"
	"github.com/driftlock/wsbridge/internal/metrics"
	"github.com/driftlock/wsbridge/internal/ratelimit"
)

// Manager owns one logical connection to the endpoint: it maintains the
// connection lifecycle, encodes and decodes the wire envelope, admits sends
// through the rate limiter, queues messages while offline, correlates
// request/response pairs, and reconnects with a bounded number of attempts.
type Manager interface {
	// Connect establishes the connection. On failure the manager keeps
	// retrying in the background until the attempt ceiling is reached.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection and cancels in-flight requests.
	// Queued outbound messages are kept; use ClearQueue to discard them.
	// Safe to call repeatedly.
	Disconnect() error

	// Send delivers a message, or queues it when the connection is down.
	// Live sends count against the rate limit; queued sends do not until
	// they are flushed.
	Send(ctx context.Context, msg *message.Message, priority message.Priority) error

	// SendAndWait sends a message and blocks until a reply with the same
	// ID arrives, the request times out, or ctx is cancelled.
	SendAndWait(ctx context.Context, msg *message.Message) (*message.Message, error)

	// Subscribe registers a handler for inbound messages of one kind.
	Subscribe(kind message.Kind, handler Handler) SubscriptionID

	// Unsubscribe removes a handler registration.
	Unsubscribe(id SubscriptionID) bool

	// Info returns a point-in-time view of the manager.
	Info() ConnectionInfo

	// State returns the current connection state.
	State() State

	// ClearQueue discards queued outbound messages and returns the count.
	ClearQueue() int

	// Metrics returns the manager's metrics collector.
	Metrics() *metrics.Collector
}

// manager implements the Manager interface.
type manager struct {
	cfg    Config
	logger *slog.Logger

	state   *stateManager
	codec   *message.Codec
	limiter *ratelimit.SlidingWindow
	queue   *outboundQueue
	pending *pendingStore
	disp    *dispatcher
	metrics *metrics.Collector

	// newClient is swappable for tests.
	newClient func(ClientConfig, *slog.Logger) Client

	mu            sync.Mutex
	client        Client
	stop          chan struct{} // per-session: closes read/heartbeat loops
	reconnectStop chan struct{} // aborts a scheduled reconnect
	attempts      int
}

// NewManager creates a connection manager for the configured endpoint.
func NewManager(cfg Config, logger *slog.Logger) (Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, cfg.Endpoint)
	}

	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = def.RateLimitRequests
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	codec, err := message.NewCodec(message.CodecOptions{
		MaxMessageSize:  cfg.MaxMessageSize,
		Compression:     cfg.Compression,
		VerifyChecksums: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create codec: %w", err)
	}

	m := &manager{
		cfg:     cfg,
		logger:  logger,
		state:   newStateManager(),
		codec:   codec,
		limiter: ratelimit.NewSlidingWindow(cfg.RateLimitRequests, cfg.RateLimitWindow),
		queue:   newOutboundQueue(),
		pending: newPendingStore(),
		metrics: metrics.NewCollector(),
	}
	m.disp = newDispatcher(m.pending, logger)
	m.disp.onControl = m.handleControl
	m.disp.onResolved = func(p *pendingRequest) {
		m.metrics.RecordLatencySample(time.Since(p.created))
	}
	m.newClient = NewClient

	return m, nil
}

// Connect establishes the connection.
func (m *manager) Connect(ctx context.Context) error {
	if !m.state.transitionFrom(StateConnecting, StateDisconnected, StateFailed) {
		return ErrAlreadyConnected
	}

	m.logger.Info("connecting", "endpoint", m.cfg.Endpoint)

	if err := m.dial(ctx); err != nil {
		// A Disconnect that raced the dial already settled the state.
		if errors.Is(err, ErrCancelled) {
			return err
		}
		m.connectFailed(err)
		return err
	}

	return nil
}

// dial performs one connect attempt and, on success, brings up the session.
func (m *manager) dial(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	cl := m.newClient(m.clientConfig(), m.logger)
	if err := cl.Connect(cctx); err != nil {
		m.metrics.RecordError()
		return err
	}

	m.mu.Lock()
	m.client = cl
	m.stop = make(chan struct{})
	m.attempts = 0
	m.reconnectStop = nil
	stop := m.stop
	m.mu.Unlock()

	m.metrics.RecordConnection()

	// Replay queued messages before the state flips so new sends cannot
	// jump ahead of them, then drain again to catch a racing enqueue.
	m.flushQueue(cl)

	// A Disconnect that landed while the dial was in flight moved the
	// state past Connecting; its teardown wins and the late session must
	// not come up.
	if !m.state.transition(StateConnecting, StateConnected) {
		m.mu.Lock()
		if m.client == cl {
			m.client = nil
		}
		if m.stop != nil {
			close(m.stop)
			m.stop = nil
		}
		m.mu.Unlock()
		cl.Close()
		return ErrCancelled
	}

	m.flushQueue(cl)

	go m.readLoop(cl, stop)
	go m.watchErrors(cl, stop)
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeatLoop(stop)
	}

	m.logger.Info("connected", "endpoint", m.cfg.Endpoint)

	return nil
}

// connectFailed records a failed attempt and either schedules a reconnect
// or marks the manager terminally failed.
func (m *manager) connectFailed(err error) {
	m.mu.Lock()
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()

	m.logger.Warn("connect attempt failed",
		"attempt", attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"error", err,
	)

	m.state.set(StateFailed)

	if m.cfg.MaxReconnectAttempts > 0 && attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("max reconnect attempts reached, giving up",
			"attempts", attempts)
		return
	}

	// A concurrent Disconnect wins the race and stops the retry cycle.
	if !m.state.transition(StateFailed, StateReconnecting) {
		return
	}

	m.mu.Lock()
	m.reconnectStop = make(chan struct{})
	stop := m.reconnectStop
	m.mu.Unlock()

	go m.reconnectLoop(stop)
}

// reconnectLoop retries the connection at a fixed delay until it succeeds,
// the attempt ceiling is reached, or the manager is disconnected.
func (m *manager) reconnectLoop(stop chan struct{}) {
	for {
		select {
		case <-time.After(m.cfg.ReconnectDelay):
		case <-stop:
			return
		}

		if !m.state.transition(StateReconnecting, StateConnecting) {
			return
		}

		m.metrics.RecordReconnectAttempt()

		err := m.dial(context.Background())
		if err == nil {
			m.logger.Info("reconnected", "endpoint", m.cfg.Endpoint)
			return
		}
		if errors.Is(err, ErrCancelled) {
			return
		}

		m.mu.Lock()
		m.attempts++
		attempts := m.attempts
		m.mu.Unlock()

		m.logger.Warn("reconnect attempt failed",
			"attempt", attempts,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"error", err,
		)

		m.state.set(StateFailed)

		if m.cfg.MaxReconnectAttempts > 0 && attempts >= m.cfg.MaxReconnectAttempts {
			m.logger.Error("max reconnect attempts reached, giving up",
				"attempts", attempts)
			return
		}

		if !m.state.transition(StateFailed, StateReconnecting) {
			return
		}
	}
}

// Disconnect tears down the connection.
func (m *manager) Disconnect() error {
	if !m.state.transitionFrom(StateClosing,
		StateConnected, StateConnecting, StateReconnecting, StateFailed) {
		return nil
	}

	m.mu.Lock()
	cl := m.client
	m.client = nil
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.reconnectStop != nil {
		close(m.reconnectStop)
		m.reconnectStop = nil
	}
	m.attempts = 0
	m.mu.Unlock()

	if cl != nil {
		cl.Close()
	}

	m.pending.clear(ErrCancelled)
	m.limiter.Reset()
	m.state.set(StateDisconnected)

	m.logger.Info("disconnected", "endpoint", m.cfg.Endpoint)

	return nil
}

// Send delivers or queues one message.
func (m *manager) Send(ctx context.Context, msg *message.Message, priority message.Priority) error {
	if m.state.get() != StateConnected {
		m.queue.push(msg, priority)
		m.logger.Debug("queued message while offline",
			"id", msg.ID,
			"priority", priority.String(),
			"depth", m.queue.depth(),
		)
		return nil
	}

	// Encode before taking a limiter slot so a rejected message does not
	// burn an admission.
	data, err := m.codec.Encode(msg)
	if err != nil {
		m.metrics.RecordError()
		return err
	}

	if !m.limiter.Allow() {
		return ErrRateLimitExceeded
	}

	return m.writeFrame(data)
}

// SendAndWait sends a message and waits for its correlated reply.
func (m *manager) SendAndWait(ctx context.Context, msg *message.Message) (*message.Message, error) {
	p, err := m.pending.add(msg.ID)
	if err != nil {
		return nil, err
	}

	if err := m.Send(ctx, msg, message.PriorityHigh); err != nil {
		m.pending.remove(msg.ID)
		return nil, err
	}

	return m.pending.wait(ctx, p, m.cfg.RequestTimeout)
}

// Subscribe registers an inbound handler.
func (m *manager) Subscribe(kind message.Kind, handler Handler) SubscriptionID {
	return m.disp.subscribe(kind, handler)
}

// Unsubscribe removes an inbound handler.
func (m *manager) Unsubscribe(id SubscriptionID) bool {
	return m.disp.unsubscribe(id)
}

// Info returns a point-in-time view of the manager.
func (m *manager) Info() ConnectionInfo {
	m.mu.Lock()
	attempts := m.attempts
	m.mu.Unlock()

	return ConnectionInfo{
		State:             m.state.get(),
		Endpoint:          m.cfg.Endpoint,
		ReconnectAttempts: attempts,
		QueueDepth:        m.queue.depth(),
		SubscriptionCount: m.disp.subscriptionCount(),
		PendingCount:      m.pending.count(),
	}
}

// State returns the current connection state.
func (m *manager) State() State {
	return m.state.get()
}

// ClearQueue discards queued outbound messages.
func (m *manager) ClearQueue() int {
	n := m.queue.clear()
	if n > 0 {
		m.logger.Info("cleared outbound queue", "dropped", n)
	}
	return n
}

// Metrics returns the manager's metrics collector.
func (m *manager) Metrics() *metrics.Collector {
	return m.metrics
}

// write encodes and transmits one message on the live transport.
func (m *manager) write(msg *message.Message) error {
	data, err := m.codec.Encode(msg)
	if err != nil {
		m.metrics.RecordError()
		return err
	}
	return m.writeFrame(data)
}

// writeFrame transmits an already-encoded frame.
func (m *manager) writeFrame(data []byte) error {
	m.mu.Lock()
	cl := m.client
	m.mu.Unlock()

	if cl == nil {
		return ErrNotConnected
	}

	if err := cl.Send(data); err != nil {
		m.metrics.RecordError()
		return err
	}

	m.metrics.RecordSent(len(data))

	return nil
}

// flushQueue replays queued messages on a fresh connection, highest
// priority first. Flushed messages do not count against the rate limit.
// On a transport failure the unsent remainder goes back in the queue.
func (m *manager) flushQueue(cl Client) {
	items := m.queue.drain()
	if len(items) == 0 {
		return
	}

	m.logger.Info("flushing queued messages", "count", len(items))

	for i, it := range items {
		data, err := m.codec.Encode(it.msg)
		if err != nil {
			m.metrics.RecordError()
			m.logger.Warn("dropping unencodable queued message",
				"id", it.msg.ID, "error", err)
			continue
		}

		if err := cl.Send(data); err != nil {
			m.queue.restore(items[i:])
			m.logger.Warn("flush interrupted, messages requeued",
				"remaining", len(items)-i, "error", err)
			return
		}

		m.metrics.RecordSent(len(data))
	}
}

// readLoop decodes inbound frames and hands them to the dispatcher.
// Undecodable frames are counted and dropped.
func (m *manager) readLoop(cl Client, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case tm, ok := <-cl.Messages():
			if !ok {
				return
			}

			m.metrics.RecordReceived(len(tm.Data))

			msg, err := m.codec.Decode(tm.Data)
			if err != nil {
				m.metrics.RecordDecodeFailure()
				m.logger.Debug("dropping undecodable frame",
					"bytes", len(tm.Data), "error", err)
				continue
			}

			m.disp.dispatch(msg)
		}
	}
}

// watchErrors waits for a transport error and triggers recovery.
func (m *manager) watchErrors(cl Client, stop chan struct{}) {
	select {
	case <-stop:
		return
	case err, ok := <-cl.Errors():
		if !ok {
			return
		}
		m.metrics.RecordError()
		m.logger.Warn("connection lost", "error", err)
		m.handleConnectionLost(cl)
	}
}

// handleConnectionLost tears down the dead session and schedules reconnects.
func (m *manager) handleConnectionLost(cl Client) {
	if !m.state.transition(StateConnected, StateFailed) {
		return
	}

	m.mu.Lock()
	if m.client == cl {
		m.client = nil
	}
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	cl.Close()

	// A concurrent Disconnect wins the race and stops the retry cycle.
	if !m.state.transition(StateFailed, StateReconnecting) {
		return
	}

	m.mu.Lock()
	m.reconnectStop = make(chan struct{})
	stop := m.reconnectStop
	m.mu.Unlock()

	go m.reconnectLoop(stop)
}

// heartbeatLoop emits a control heartbeat on a fixed cadence, fire and
// forget. A failed send is recorded but never tears the connection down;
// the transport watchdog handles genuinely dead links.
func (m *manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.state.isConnected() {
				continue
			}
			beat := message.NewControl(message.CommandHeartbeat, nil)
			if err := m.write(beat); err != nil {
				m.metrics.RecordHeartbeatFailure()
				m.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// handleControl reacts to control messages from the peer.
func (m *manager) handleControl(msg *message.Message) {
	if msg.Control == nil {
		return
	}

	switch msg.Control.Command {
	case message.CommandPing:
		pong := message.NewControlReply(msg, message.CommandPong, nil)
		if err := m.write(pong); err != nil {
			m.logger.Debug("failed to answer ping", "error", err)
		}
	case message.CommandClose:
		if code, ok := msg.Control.Parameters["code"]; ok {
			serr := &ServerError{Code: code, Message: msg.Control.Parameters["message"]}
			m.metrics.RecordError()
			m.logger.Warn("close requested by peer", "error", serr)
		} else {
			m.logger.Info("close requested by peer")
		}
		go m.Disconnect()
	}
}

// clientConfig derives the transport configuration, including auth headers.
func (m *manager) clientConfig() ClientConfig {
	header := http.Header{}
	for k, v := range m.cfg.Headers {
		header.Set(k, v)
	}
	if m.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+m.cfg.AuthToken)
	}

	pingInterval := m.cfg.HeartbeatInterval
	if pingInterval <= 0 {
		pingInterval = DefaultClientConfig().PingInterval
	}

	return ClientConfig{
		URL:              m.cfg.Endpoint,
		Header:           header,
		Subprotocols:     m.cfg.Subprotocols,
		HandshakeTimeout: m.cfg.ConnectTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		PingInterval:     pingInterval,
		StaleAfter:       m.cfg.StaleAfter,
		BufferSize:       m.cfg.BufferSize,
	}
}
