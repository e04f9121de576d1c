package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig() Config {
	return Config{
		QueueSize:         2,
		DropThreshold:     3,
		DropWindow:        time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  20 * time.Millisecond,
		MissedPongLimit:   1,
		BacklogSize:       8,
		WriteTimeout:      time.Second,
	}.WithDefaults()
}

func TestEnqueueAssignsMonotonicSeqs(t *testing.T) {
	cfg := testSessionConfig()
	cfg.QueueSize = 16
	s := newSession(context.Background(), nil, Subscription{}, cfg, nil)

	for i := 0; i < 3; i++ {
		s.enqueue(startedEvent("s1"))
	}
	for want := uint64(1); want <= 3; want++ {
		item, ok := s.queue.pop()
		require.True(t, ok)
		assert.Equal(t, want, item.seq)
	}
	frames, complete := s.ring.since(0)
	assert.True(t, complete)
	assert.Len(t, frames, 3, "every delivered frame is retained for resync")
}

func TestEnqueueFiltersBySubscription(t *testing.T) {
	s := newSession(context.Background(), nil, Subscription{SessionIDs: []string{"s1"}}, testSessionConfig(), nil)

	s.enqueue(startedEvent("s2"))
	assert.Equal(t, 0, s.queue.depth())

	s.enqueue(startedEvent("s1"))
	require.Equal(t, 1, s.queue.depth())
	item, _ := s.queue.pop()
	assert.Equal(t, uint64(1), item.seq, "filtered events must not consume seqs")
}

func TestEnqueueMarksUnhealthyPastDropThreshold(t *testing.T) {
	cfg := testSessionConfig()
	cfg.QueueSize = 1
	cfg.DropThreshold = 3
	s := newSession(context.Background(), nil, Subscription{}, cfg, nil)

	// One queued, the rest shed.
	for i := 0; i < 5; i++ {
		s.enqueue(startedEvent("s1"))
	}
	assert.Equal(t, StateUnhealthy, s.State())
	assert.GreaterOrEqual(t, s.Drops(), int64(3))
}

func TestRecoverFailsWithoutPong(t *testing.T) {
	s := newSession(context.Background(), nil, Subscription{}, testSessionConfig(), nil)
	s.markUnhealthy("test")

	require.False(t, s.recover())
	assert.Equal(t, StateRecovering, s.State())
}

func TestRecoverSucceedsOnPong(t *testing.T) {
	cfg := testSessionConfig()
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	s := newSession(context.Background(), nil, Subscription{}, cfg, nil)
	s.markUnhealthy("test")

	// Answer the recovery ping as soon as it is queued.
	go func() {
		item, ok := s.queue.pop()
		if !ok {
			return
		}
		ping, isPing := item.control.(PingFrame)
		if !isPing {
			return
		}
		s.handlePong(ping.Nonce)
	}()

	require.True(t, s.recover())
	assert.Equal(t, StateReady, s.State())
}

func TestHandlePongResetsMissedAndTracksLatency(t *testing.T) {
	s := newSession(context.Background(), nil, Subscription{}, testSessionConfig(), nil)
	s.sendPing()
	item, ok := s.queue.pop()
	require.True(t, ok)
	ping := item.control.(PingFrame)

	s.mu.Lock()
	s.missedPongs = 2
	s.mu.Unlock()

	s.handlePong(ping.Nonce)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Zero(t, s.missedPongs)
	assert.Empty(t, s.pendingPings)
	assert.Len(t, s.latencies, 1)
}

func TestHandlePongIgnoresUnknownNonce(t *testing.T) {
	s := newSession(context.Background(), nil, Subscription{}, testSessionConfig(), nil)
	s.handlePong("never-sent")
	assert.Zero(t, s.HeartbeatLatency())
}

func TestExpirePingsCountsMissed(t *testing.T) {
	cfg := testSessionConfig()
	cfg.HeartbeatTimeout = 5 * time.Millisecond
	s := newSession(context.Background(), nil, Subscription{}, cfg, nil)

	s.sendPing()
	s.sendPing()
	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	s.expirePingsLocked()
	missed := s.missedPongs
	s.mu.Unlock()
	assert.Equal(t, 2, missed)
}
