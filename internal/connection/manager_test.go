package connection

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlock/wsbridge/internal/message"
)

func testManagerConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = url
	cfg.HeartbeatInterval = 0 // individual tests opt in
	cfg.StaleAfter = time.Minute
	cfg.RequestTimeout = time.Second
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectAttempts = 2
	return cfg
}

func testCodec(t *testing.T) *message.Codec {
	t.Helper()
	codec, err := message.NewCodec(message.CodecOptions{VerifyChecksums: true})
	require.NoError(t, err)
	return codec
}

// echoServer reflects every frame back unchanged.
func echoServer(t *testing.T) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})
}

// blackholeServer reads and discards every frame.
func blackholeServer(t *testing.T) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func TestManager_InvalidEndpoint(t *testing.T) {
	_, err := NewManager(testManagerConfig("http://example.com"), nil)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewManager(testManagerConfig("not a url"), nil)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestManager_ConnectLifecycle(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	m, err := NewManager(testManagerConfig(wsURL(server)), nil)
	require.NoError(t, err)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	// A second connect while live is rejected.
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)

	info := m.Info()
	assert.Equal(t, StateConnected, info.State)
	assert.Equal(t, wsURL(server), info.Endpoint)
	assert.Equal(t, 0, info.ReconnectAttempts)
	assert.Equal(t, 0, info.QueueDepth)

	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	require.NoError(t, m.Disconnect())

	// The manager is reusable after an explicit disconnect.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	require.NoError(t, m.Disconnect())
}

func TestManager_SendAndWaitEcho(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	m, err := NewManager(testManagerConfig(wsURL(server)), nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	msg := message.NewText("are you there", "probe", nil)
	reply, err := m.SendAndWait(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, reply.ID)
	assert.Equal(t, "are you there", reply.Text.Content)

	stats := m.Metrics().Snapshot()
	assert.GreaterOrEqual(t, stats.MessagesSent, int64(1))
	assert.GreaterOrEqual(t, stats.MessagesReceived, int64(1))
	assert.Equal(t, int64(1), stats.LatencySamples)
	assert.Greater(t, stats.AvgLatency, time.Duration(0))
	assert.Equal(t, 0, m.Info().PendingCount)
}

func TestManager_SendAndWaitTimeout(t *testing.T) {
	server := blackholeServer(t)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.RequestTimeout = 50 * time.Millisecond

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	_, err = m.SendAndWait(context.Background(), message.NewText("anyone?", "", nil))
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, m.Info().PendingCount)
}

func TestManager_DisconnectCancelsPending(t *testing.T) {
	server := blackholeServer(t)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.RequestTimeout = 5 * time.Second

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	errs := make(chan error, 1)
	go func() {
		_, err := m.SendAndWait(context.Background(), message.NewText("hold", "", nil))
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return m.Info().PendingCount == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Disconnect())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("pending request not cancelled by Disconnect")
	}
}

func TestManager_OfflineSendQueuesAndFlushes(t *testing.T) {
	codec := testCodec(t)
	contents := make(chan string, 16)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := codec.Decode(data)
			if err != nil {
				t.Logf("decode error: %v", err)
				continue
			}
			if msg.Kind == message.KindText {
				contents <- msg.Text.Content
			}
		}
	})
	defer server.Close()

	m, err := NewManager(testManagerConfig(wsURL(server)), nil)
	require.NoError(t, err)

	// Offline sends queue without error and without touching the limiter.
	require.NoError(t, m.Send(context.Background(), message.NewText("low", "", nil), message.PriorityLow))
	require.NoError(t, m.Send(context.Background(), message.NewText("normal", "", nil), message.PriorityNormal))
	require.NoError(t, m.Send(context.Background(), message.NewText("critical", "", nil), message.PriorityCritical))
	assert.Equal(t, 3, m.Info().QueueDepth)

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case c := <-contents:
			got = append(got, c)
		case <-time.After(time.Second):
			t.Fatalf("flush incomplete, received %d of 3", i)
		}
	}

	assert.Equal(t, []string{"critical", "normal", "low"}, got)
	assert.Equal(t, 0, m.Info().QueueDepth)
}

func TestManager_ClearQueue(t *testing.T) {
	m, err := NewManager(testManagerConfig("ws://localhost:12345"), nil)
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), message.NewText("a", "", nil), message.PriorityNormal))
	require.NoError(t, m.Send(context.Background(), message.NewText("b", "", nil), message.PriorityNormal))

	assert.Equal(t, 2, m.ClearQueue())
	assert.Equal(t, 0, m.Info().QueueDepth)
	assert.Equal(t, 0, m.ClearQueue())
}

func TestManager_RateLimit(t *testing.T) {
	server := blackholeServer(t)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.NoError(t, m.Send(context.Background(), message.NewText("1", "", nil), message.PriorityNormal))
	require.NoError(t, m.Send(context.Background(), message.NewText("2", "", nil), message.PriorityNormal))

	err = m.Send(context.Background(), message.NewText("3", "", nil), message.PriorityNormal)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// Rejected sends are not queued for later.
	assert.Equal(t, 0, m.Info().QueueDepth)
}

func TestManager_ReconnectGivesUp(t *testing.T) {
	cfg := testManagerConfig("ws://127.0.0.1:1")
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 2

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	err = m.Connect(context.Background())
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return m.State() == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, m.Info().ReconnectAttempts)
	assert.Equal(t, int64(1), m.Metrics().Snapshot().ReconnectAttempts)
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			// Drop the first connection immediately.
			return
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.MaxReconnectAttempts = 5

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return conns.Load() >= 2 && m.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	// The revived connection works end to end.
	reply, err := m.SendAndWait(context.Background(), message.NewText("back?", "", nil))
	require.NoError(t, err)
	assert.Equal(t, "back?", reply.Text.Content)

	stats := m.Metrics().Snapshot()
	assert.GreaterOrEqual(t, stats.ReconnectAttempts, int64(1))
	assert.GreaterOrEqual(t, stats.Connections, int64(2))
}

func TestManager_SubscribeReceivesInbound(t *testing.T) {
	codec := testCodec(t)
	inbound := message.NewText("server push", "origin", nil)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		data, err := codec.Encode(inbound)
		if err != nil {
			t.Logf("encode error: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m, err := NewManager(testManagerConfig(wsURL(server)), nil)
	require.NoError(t, err)

	received := make(chan *message.Message, 1)
	id := m.Subscribe(message.KindText, func(msg *message.Message) {
		select {
		case received <- msg:
		default:
		}
	})
	assert.Equal(t, 1, m.Info().SubscriptionCount)

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	select {
	case msg := <-received:
		assert.Equal(t, inbound.ID, msg.ID)
		assert.Equal(t, "server push", msg.Text.Content)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the pushed message")
	}

	assert.True(t, m.Unsubscribe(id))
	assert.False(t, m.Unsubscribe(id))
	assert.Equal(t, 0, m.Info().SubscriptionCount)
}

func TestManager_AnswersServerPing(t *testing.T) {
	codec := testCodec(t)
	pongs := make(chan *message.Message, 1)
	ping := message.NewControl(message.CommandPing, nil)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		data, err := codec.Encode(ping)
		if err != nil {
			t.Logf("encode error: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := codec.Decode(frame)
			if err != nil {
				continue
			}
			if msg.IsControl(message.CommandPong) {
				select {
				case pongs <- msg:
				default:
				}
			}
		}
	})
	defer server.Close()

	m, err := NewManager(testManagerConfig(wsURL(server)), nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	select {
	case pong := <-pongs:
		assert.Equal(t, ping.ID, pong.ID)
	case <-time.After(time.Second):
		t.Fatal("server ping was never answered")
	}
}

func TestManager_HeartbeatEmitted(t *testing.T) {
	codec := testCodec(t)
	beats := make(chan *message.Message, 4)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := codec.Decode(frame)
			if err != nil {
				continue
			}
			if msg.IsControl(message.CommandHeartbeat) {
				select {
				case beats <- msg:
				default:
				}
			}
		}
	})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.HeartbeatInterval = 30 * time.Millisecond

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	// Heartbeats arrive on schedule; the peer never answers them and that
	// must not count as a failure or leave a waiter behind.
	select {
	case beat := <-beats:
		assert.True(t, beat.IsControl(message.CommandHeartbeat))
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat reached the server")
	}

	assert.Equal(t, int64(0), m.Metrics().Snapshot().HeartbeatFailures)
	assert.Equal(t, 0, m.Info().PendingCount)
}

func TestManager_MalformedInboundIsDropped(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte("not an envelope")); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m, err := NewManager(testManagerConfig(wsURL(server)), nil)
	require.NoError(t, err)

	var delivered atomic.Int32
	m.Subscribe(message.KindText, func(*message.Message) {
		delivered.Add(1)
	})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.Metrics().Snapshot().DecodeFailures == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(0), delivered.Load())
	assert.Equal(t, StateConnected, m.State())
}

// gatedClient blocks Connect until released, standing in for a slow dial.
type gatedClient struct {
	gate   chan struct{}
	closed atomic.Bool
	msgs   chan TimestampedMessage
	errs   chan error
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		gate: make(chan struct{}),
		msgs: make(chan TimestampedMessage),
		errs: make(chan error, 1),
	}
}

func (c *gatedClient) Connect(ctx context.Context) error {
	select {
	case <-c.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *gatedClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *gatedClient) Send([]byte) error                   { return nil }
func (c *gatedClient) Messages() <-chan TimestampedMessage { return c.msgs }
func (c *gatedClient) Errors() <-chan error                { return c.errs }
func (c *gatedClient) IsConnected() bool                   { return !c.closed.Load() }

func TestManager_DisconnectDuringDialWins(t *testing.T) {
	mi, err := NewManager(testManagerConfig("ws://localhost:12345"), nil)
	require.NoError(t, err)
	m := mi.(*manager)

	cl := newGatedClient()
	m.newClient = func(ClientConfig, *slog.Logger) Client { return cl }

	errs := make(chan error, 1)
	go func() {
		errs <- m.Connect(context.Background())
	}()

	require.Eventually(t, func() bool {
		return m.State() == StateConnecting
	}, time.Second, time.Millisecond)

	// Tear down while the dial is still in flight.
	require.NoError(t, m.Disconnect())
	require.Equal(t, StateDisconnected, m.State())

	close(cl.gate)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("Connect never returned")
	}

	// The late dial must not revive the session.
	assert.Equal(t, StateDisconnected, m.State())
	assert.Eventually(t, func() bool {
		return cl.closed.Load()
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, m.Info().ReconnectAttempts)
}

func TestManager_OversizedSendKeepsRateLimitSlot(t *testing.T) {
	server := blackholeServer(t)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.MaxMessageSize = 256
	cfg.RateLimitRequests = 1
	cfg.RateLimitWindow = time.Minute

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	big := message.NewText(strings.Repeat("x", 1024), "", nil)
	err = m.Send(context.Background(), big, message.PriorityNormal)
	assert.ErrorIs(t, err, message.ErrMessageTooLarge)

	// The rejected message must not have consumed the only admission.
	require.NoError(t, m.Send(context.Background(), message.NewText("small", "", nil), message.PriorityNormal))

	err = m.Send(context.Background(), message.NewText("over", "", nil), message.PriorityNormal)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}
