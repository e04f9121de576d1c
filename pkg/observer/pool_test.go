package observer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
)

func testPoolConfig() Config {
	return Config{
		MaxConnections:    4,
		HeartbeatInterval: time.Minute,
		HeartbeatTimeout:  time.Minute,
		AcquireTimeout:    2 * time.Second,
		WriteTimeout:      2 * time.Second,
	}
}

// iterationOnly keeps the pool's own observer_admitted/observer_dropped
// events out of the stream so seq assertions stay deterministic.
var iterationOnly = Subscription{EventTypes: []string{string(hookbus.EventIterationStarted)}}

func startPool(t *testing.T, cfg Config) (*Pool, *hookbus.Bus, string) {
	t.Helper()
	bus := hookbus.New()
	pool, err := NewPool(bus, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	srv := httptest.NewServer(pool)
	t.Cleanup(func() {
		srv.Close()
		pool.Stop()
		cancel()
	})
	return pool, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialObserver(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// readEvent skips heartbeat pings until an event or close frame arrives.
func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	for {
		m := readFrame(t, conn)
		if m["type"] == frameTypePing {
			continue
		}
		return m
	}
}

func admit(t *testing.T, conn *websocket.Conn, hs Handshake) HandshakeReply {
	t.Helper()
	if hs.ProtocolVersion == 0 {
		hs.ProtocolVersion = ProtocolVersion
	}
	sendJSON(t, conn, hs)
	frame := readFrame(t, conn)
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	var reply HandshakeReply
	require.NoError(t, json.Unmarshal(data, &reply))
	return reply
}

func TestAdmissionAndEventDelivery(t *testing.T) {
	_, bus, url := startPool(t, testPoolConfig())
	conn := dialObserver(t, url)

	reply := admit(t, conn, Handshake{Subscription: iterationOnly})
	require.True(t, reply.Accepted)
	assert.NotEmpty(t, reply.ConnectionID)
	assert.NotEmpty(t, reply.ServerVersion)

	bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "sess-1"})
	bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "sess-1"})

	first := readEvent(t, conn)
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, "iteration_started", first["type"])
	assert.Equal(t, "sess-1", first["sessionId"])

	second := readEvent(t, conn)
	assert.Equal(t, float64(2), second["seq"])
}

func TestSubscriptionNarrowsDelivery(t *testing.T) {
	_, bus, url := startPool(t, testPoolConfig())
	conn := dialObserver(t, url)

	sub := Subscription{
		SessionIDs: []string{"wanted"},
		EventTypes: []string{string(hookbus.EventIterationStarted)},
	}
	require.True(t, admit(t, conn, Handshake{Subscription: sub}).Accepted)

	bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "other"})
	bus.Publish(hookbus.Event{Type: hookbus.EventIterationCompleted, SessionID: "wanted"})
	bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "wanted"})

	// Only the last event passes the subscription, and it gets seq 1.
	ev := readEvent(t, conn)
	assert.Equal(t, float64(1), ev["seq"])
	assert.Equal(t, "wanted", ev["sessionId"])
}

func TestRejectProtocolMismatch(t *testing.T) {
	_, _, url := startPool(t, testPoolConfig())
	conn := dialObserver(t, url)

	reply := admit(t, conn, Handshake{ProtocolVersion: 99})
	assert.False(t, reply.Accepted)
	assert.Equal(t, ReasonProtocolMismatch, reply.Reason)
	assert.Empty(t, reply.ConnectionID)
}

func TestRejectOriginDenied(t *testing.T) {
	cfg := testPoolConfig()
	cfg.OriginAllowlist = []string{"https://dash.internal"}
	_, _, url := startPool(t, cfg)

	conn := dialObserver(t, url)
	reply := admit(t, conn, Handshake{Origin: "https://elsewhere.example"})
	assert.False(t, reply.Accepted)
	assert.Equal(t, ReasonOriginDenied, reply.Reason)

	allowed := dialObserver(t, url)
	reply = admit(t, allowed, Handshake{Origin: "https://dash.internal"})
	assert.True(t, reply.Accepted)
}

func TestRejectAuthFailed(t *testing.T) {
	cfg := testPoolConfig()
	cfg.AuthToken = "observer-token"
	_, _, url := startPool(t, cfg)

	conn := dialObserver(t, url)
	reply := admit(t, conn, Handshake{AuthToken: "wrong"})
	assert.False(t, reply.Accepted)
	assert.Equal(t, ReasonAuthFailed, reply.Reason)

	authed := dialObserver(t, url)
	reply = admit(t, authed, Handshake{AuthToken: "observer-token"})
	assert.True(t, reply.Accepted)
}

func TestRejectOverCapacity(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	pool, _, url := startPool(t, cfg)

	first := dialObserver(t, url)
	require.True(t, admit(t, first, Handshake{Subscription: iterationOnly}).Accepted)
	require.Equal(t, 1, pool.ActiveConnections())

	second := dialObserver(t, url)
	reply := admit(t, second, Handshake{Subscription: iterationOnly})
	assert.False(t, reply.Accepted)
	assert.Equal(t, ReasonOverCapacity, reply.Reason)
}

func TestResyncReplaysRetainedFrames(t *testing.T) {
	_, bus, url := startPool(t, testPoolConfig())
	conn := dialObserver(t, url)
	require.True(t, admit(t, conn, Handshake{Subscription: iterationOnly}).Accepted)

	for i := 0; i < 3; i++ {
		bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "s1"})
	}
	for want := 1; want <= 3; want++ {
		assert.Equal(t, float64(want), readEvent(t, conn)["seq"])
	}

	sendJSON(t, conn, ClientFrame{Type: frameTypeResync, FromSeq: 1})
	assert.Equal(t, float64(2), readEvent(t, conn)["seq"])
	assert.Equal(t, float64(3), readEvent(t, conn)["seq"])
}

func TestResyncOverflowPointsAtJournal(t *testing.T) {
	cfg := testPoolConfig()
	cfg.BacklogSize = 2
	_, bus, url := startPool(t, cfg)
	conn := dialObserver(t, url)
	require.True(t, admit(t, conn, Handshake{Subscription: iterationOnly}).Accepted)

	for i := 0; i < 3; i++ {
		bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "s1"})
	}
	for want := 1; want <= 3; want++ {
		require.Equal(t, float64(want), readEvent(t, conn)["seq"])
	}

	// Seq 1 has fallen off the two-slot retention ring.
	sendJSON(t, conn, ClientFrame{Type: frameTypeResync, FromSeq: 0})
	frame := readEvent(t, conn)
	assert.Equal(t, "resync.overflow", frame["type"])
	assert.Equal(t, float64(2), frame["oldestAvailable"])
	assert.Contains(t, frame["guidance"], "journal")
}

func TestReconnectResumesMissedFrames(t *testing.T) {
	pool, bus, url := startPool(t, testPoolConfig())
	conn := dialObserver(t, url)
	reply := admit(t, conn, Handshake{Subscription: iterationOnly})
	require.True(t, reply.Accepted)

	for i := 0; i < 3; i++ {
		bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "s1"})
	}
	for want := 1; want <= 3; want++ {
		require.Equal(t, float64(want), readEvent(t, conn)["seq"])
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "going away"))
	require.Eventually(t, func() bool { return pool.ActiveConnections() == 0 },
		2*time.Second, 10*time.Millisecond)

	// Resume as if only seq 1 was processed before the drop.
	resumed := dialObserver(t, url)
	require.True(t, admit(t, resumed, Handshake{
		Subscription:       iterationOnly,
		ResumeConnectionID: reply.ConnectionID,
		LastSeenSeq:        1,
	}).Accepted)

	assert.Equal(t, float64(2), readEvent(t, resumed)["seq"])
	assert.Equal(t, float64(3), readEvent(t, resumed)["seq"])

	// Live events continue the replayed numbering.
	bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "s1"})
	assert.Equal(t, float64(4), readEvent(t, resumed)["seq"])
}

func TestBackfillOnAdmission(t *testing.T) {
	cfg := testPoolConfig()
	cfg.EnableBackfill = true
	_, bus, url := startPool(t, cfg)

	for i := 0; i < 3; i++ {
		bus.Publish(hookbus.Event{
			Type:      hookbus.EventIterationStarted,
			SessionID: "s1",
			Payload:   map[string]any{"n": i},
		})
	}
	// Let the fan-out bridge drain into the backlog before connecting.
	time.Sleep(50 * time.Millisecond)

	conn := dialObserver(t, url)
	require.True(t, admit(t, conn, Handshake{
		Subscription:  iterationOnly,
		BackfillCount: 2,
	}).Accepted)

	first := readEvent(t, conn)
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, map[string]any{"n": float64(1)}, first["payload"])
	second := readEvent(t, conn)
	assert.Equal(t, map[string]any{"n": float64(2)}, second["payload"])
}

func TestHeartbeatPingPong(t *testing.T) {
	cfg := testPoolConfig()
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	_, bus, url := startPool(t, cfg)

	conn := dialObserver(t, url)
	require.True(t, admit(t, conn, Handshake{Subscription: iterationOnly}).Accepted)

	var nonce string
	for nonce == "" {
		m := readFrame(t, conn)
		if m["type"] == frameTypePing {
			nonce, _ = m["nonce"].(string)
		}
	}
	require.NotEmpty(t, nonce)

	sendJSON(t, conn, PongFrame{Type: frameTypePong, Nonce: nonce})

	// The session stays healthy and keeps delivering.
	bus.Publish(hookbus.Event{Type: hookbus.EventIterationStarted, SessionID: "s1"})
	assert.Equal(t, "iteration_started", readEvent(t, conn)["type"])
}

func TestMissedPongsRecycleSession(t *testing.T) {
	cfg := testPoolConfig()
	cfg.HeartbeatInterval = 40 * time.Millisecond
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	cfg.MissedPongLimit = 1
	pool, _, url := startPool(t, cfg)

	conn := dialObserver(t, url)
	require.True(t, admit(t, conn, Handshake{Subscription: iterationOnly}).Accepted)

	// Never answer pings: the session goes UNHEALTHY, the single recovery
	// attempt fails, and the server closes with RECYCLING. readEvent skips
	// the unanswered pings, so the next frame it yields is the close.
	closeFrame := readEvent(t, conn)
	assert.Equal(t, frameTypeClose, closeFrame["type"])
	assert.Equal(t, "recovery failed", closeFrame["reason"])
	assert.Eventually(t, func() bool { return pool.ActiveConnections() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestClientCloseFrame(t *testing.T) {
	pool, _, url := startPool(t, testPoolConfig())
	conn := dialObserver(t, url)
	require.True(t, admit(t, conn, Handshake{Subscription: iterationOnly}).Accepted)
	require.Equal(t, 1, pool.ActiveConnections())

	sendJSON(t, conn, ClientFrame{Type: frameTypeClose, Reason: "done"})
	assert.Eventually(t, func() bool { return pool.ActiveConnections() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestObserverLifecycleEventsPublished(t *testing.T) {
	_, bus, url := startPool(t, testPoolConfig())
	sub := bus.Subscribe(hookbus.Filter{Types: []hookbus.EventType{
		hookbus.EventObserverAdmitted, hookbus.EventObserverDropped,
	}}, 8)
	defer sub.Close()

	conn := dialObserver(t, url)
	reply := admit(t, conn, Handshake{Subscription: iterationOnly})
	require.True(t, reply.Accepted)

	var ev hookbus.Event
	select {
	case ev = <-sub.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("observer_admitted not published")
	}
	assert.Equal(t, hookbus.EventObserverAdmitted, ev.Type)
	payload, ok := ev.Payload.(hookbus.ObserverPayload)
	require.True(t, ok)
	assert.Equal(t, reply.ConnectionID, payload.ConnectionID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	select {
	case ev = <-sub.Events():
		assert.Equal(t, hookbus.EventObserverDropped, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("observer_dropped not published")
	}
}
