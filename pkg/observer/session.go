package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
)

// State is an observer session's lifecycle state.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateActive       State = "ACTIVE"
	StateIdle         State = "IDLE"
	StateUnhealthy    State = "UNHEALTHY"
	StateRecovering   State = "RECOVERING"
	StateRecycling    State = "RECYCLING"
	StateClosed       State = "CLOSED"
	StateFailed       State = "FAILED"
)

// latencySamples is the size of the rolling heartbeat latency window.
const latencySamples = 8

// Session is one admitted observer channel. The pool fans events into its
// bounded queue; three goroutines (write, read, heartbeat) service the
// connection. All writes go through the write loop.
type Session struct {
	ID           string
	subscription Subscription

	conn   *websocket.Conn
	queue  *outQueue
	ring   *frameRing
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	acquiredAt   time.Time
	lastActivity time.Time
	seq          uint64
	pendingPings map[string]time.Time
	missedPongs  int
	lastPongAt   time.Time
	latencies    []time.Duration

	closeOnce sync.Once
	onClose   func(*Session)
}

func newSession(parent context.Context, conn *websocket.Conn, sub Subscription, cfg Config, onClose func(*Session)) *Session {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		subscription: sub,
		conn:         conn,
		queue:        newOutQueue(cfg.QueueSize, cfg.DropWindow),
		ring:         newFrameRing(cfg.BacklogSize),
		cfg:          cfg,
		logger:       slog.Default().With("component", "observer"),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateInitializing,
		acquiredAt:   now,
		lastActivity: now,
		pendingPings: make(map[string]time.Time),
		onClose:      onClose,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug("Observer state transition",
			"connection_id", s.ID, "from", prev, "to", next)
	}
}

// eligible reports whether the session should receive fan-out. Admission
// precedes INITIALIZING, so events arriving before the write loop starts are
// queued rather than lost.
func (s *Session) eligible() bool {
	switch s.State() {
	case StateInitializing, StateReady, StateActive, StateIdle, StateUnhealthy, StateRecovering:
		return true
	}
	return false
}

// Drops returns the session's lifetime drop count.
func (s *Session) Drops() int64 { return s.queue.totalDrops() }

// HeartbeatLatency returns the rolling average heartbeat round-trip, or zero
// with no samples yet.
func (s *Session) HeartbeatLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.latencies {
		sum += d
	}
	return sum / time.Duration(len(s.latencies))
}

// enqueue offers an event to the session without blocking the publisher.
// Sequence numbers are assigned here, and the frame is retained for resync.
// Sustained drops past the threshold mark the session UNHEALTHY.
func (s *Session) enqueue(ev hookbus.Event) {
	if !s.subscription.Matches(ev) || !s.eligible() {
		return
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	s.ring.add(seq, ev)
	s.queue.pushEvent(ev, seq)
	if s.queue.dropsInWindow() >= s.cfg.DropThreshold {
		s.markUnhealthy("drop threshold exceeded")
	}
}

func (s *Session) markUnhealthy(reason string) {
	s.mu.Lock()
	switch s.state {
	case StateUnhealthy, StateRecovering, StateRecycling, StateClosed, StateFailed:
		s.mu.Unlock()
		return
	}
	s.state = StateUnhealthy
	s.mu.Unlock()
	s.logger.Warn("Observer session unhealthy",
		"connection_id", s.ID, "reason", reason, "drops", s.queue.totalDrops())
}

// run services the connection until it closes. Blocks the caller the way the
// connection's HTTP handler expects.
func (s *Session) run() {
	s.setState(StateReady)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer wg.Done()
		s.heartbeatLoop()
	}()
	s.readLoop()
	s.close(StateClosed, "connection closed")
	wg.Wait()
}

// writeLoop drains the outbound queue onto the wire.
func (s *Session) writeLoop() {
	for {
		item, ok := s.queue.pop()
		if !ok {
			return
		}
		var payload any
		if item.event != nil {
			payload = EventFrame{
				Seq:        item.seq,
				Type:       string(item.event.Type),
				SessionID:  item.event.SessionID,
				OccurredAt: item.event.OccurredAt,
				Payload:    item.event.Payload,
			}
		} else {
			payload = item.control
		}
		if err := s.writeJSON(payload); err != nil {
			s.logger.Warn("Observer write failed",
				"connection_id", s.ID, "error", err)
			s.close(StateFailed, "write failure")
			return
		}
		s.touch()
		if item.event != nil {
			s.promoteActive()
		}
	}
}

// readLoop processes client frames: pongs, resync requests, closes.
func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}
		s.touch()
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("Invalid observer frame",
				"connection_id", s.ID, "error", err)
			continue
		}
		switch frame.Type {
		case frameTypePong:
			s.handlePong(frame.Nonce)
		case frameTypeResync:
			s.handleResync(frame.FromSeq)
		case frameTypeClose:
			s.close(StateClosed, frame.Reason)
			return
		}
	}
}

// heartbeatLoop pings on an interval and drives unhealthy detection plus the
// single bounded recovery attempt.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		switch s.State() {
		case StateUnhealthy:
			if !s.recover() {
				s.close(StateRecycling, "recovery failed")
				return
			}
			continue
		case StateRecycling, StateClosed, StateFailed:
			return
		}

		s.sendPing()
		s.mu.Lock()
		s.expirePingsLocked()
		missed := s.missedPongs
		s.mu.Unlock()
		if missed >= s.cfg.MissedPongLimit {
			s.markUnhealthy("missed pongs")
		}
		s.checkIdle()
	}
}

// recover makes one bounded attempt to restore an unhealthy session: a ping
// answered within the heartbeat timeout returns it to READY.
func (s *Session) recover() bool {
	s.setState(StateRecovering)
	start := time.Now()
	s.sendPing()

	deadline := time.NewTimer(s.cfg.HeartbeatTimeout)
	defer deadline.Stop()
	probe := time.NewTicker(10 * time.Millisecond)
	defer probe.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-probe.C:
			s.mu.Lock()
			recovered := s.lastPongAt.After(start)
			s.mu.Unlock()
			if recovered {
				s.mu.Lock()
				s.missedPongs = 0
				s.mu.Unlock()
				s.setState(StateReady)
				return true
			}
		}
	}
}

func (s *Session) sendPing() {
	nonce := uuid.New().String()
	s.mu.Lock()
	s.pendingPings[nonce] = time.Now()
	s.mu.Unlock()
	s.queue.pushControl(PingFrame{Type: frameTypePing, Nonce: nonce})
}

func (s *Session) handlePong(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sentAt, ok := s.pendingPings[nonce]
	if !ok {
		return
	}
	delete(s.pendingPings, nonce)
	s.missedPongs = 0
	s.lastPongAt = time.Now()
	s.latencies = append(s.latencies, time.Since(sentAt))
	if len(s.latencies) > latencySamples {
		s.latencies = s.latencies[1:]
	}
}

// expirePingsLocked counts pings older than the heartbeat timeout as missed.
func (s *Session) expirePingsLocked() {
	cutoff := time.Now().Add(-s.cfg.HeartbeatTimeout)
	for nonce, sentAt := range s.pendingPings {
		if sentAt.Before(cutoff) {
			delete(s.pendingPings, nonce)
			s.missedPongs++
		}
	}
}

// handleResync replays retained frames newer than fromSeq. When the range
// fell off the ring, the observer is told to resynchronise from the journal.
func (s *Session) handleResync(fromSeq uint64) {
	frames, complete := s.ring.since(fromSeq)
	if !complete {
		s.queue.pushControl(ResyncOverflowFrame{
			Type:     "resync.overflow",
			FromSeq:  fromSeq,
			Oldest:   s.ring.oldest(),
			Guidance: "requested range is no longer buffered; reload session state from the journal",
		})
		return
	}
	for _, se := range frames {
		s.queue.pushControl(EventFrame{
			Seq:        se.seq,
			Type:       string(se.event.Type),
			SessionID:  se.event.SessionID,
			OccurredAt: se.event.OccurredAt,
			Payload:    se.event.Payload,
		})
	}
}

// replay pushes frames carried over from a previous connection.
func (s *Session) replay(frames []seqEvent) {
	s.mu.Lock()
	for _, se := range frames {
		if se.seq > s.seq {
			s.seq = se.seq
		}
	}
	s.mu.Unlock()
	for _, se := range frames {
		s.ring.add(se.seq, se.event)
		s.queue.pushControl(EventFrame{
			Seq:        se.seq,
			Type:       string(se.event.Type),
			SessionID:  se.event.SessionID,
			OccurredAt: se.event.OccurredAt,
			Payload:    se.event.Payload,
		})
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) promoteActive() {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateIdle {
		s.state = StateActive
	}
	s.mu.Unlock()
}

// checkIdle demotes a quiet ACTIVE session and recycles one idle past the
// idle timeout or past its TTL.
func (s *Session) checkIdle() {
	s.mu.Lock()
	idleFor := time.Since(s.lastActivity)
	age := time.Since(s.acquiredAt)
	state := s.state
	if state == StateActive && idleFor > s.cfg.HeartbeatInterval {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if age > s.cfg.ConnectionTTL {
		s.close(StateRecycling, "connection ttl elapsed")
		return
	}
	if state == StateIdle && idleFor > s.cfg.IdleTimeout {
		s.close(StateRecycling, "idle timeout")
	}
}

// close tears the session down exactly once: terminal state, close frame
// best-effort, pool unregistration.
func (s *Session) close(terminal State, reason string) {
	s.closeOnce.Do(func() {
		s.setState(terminal)
		writeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		if data, err := json.Marshal(CloseFrame{Type: frameTypeClose, Reason: reason}); err == nil {
			_ = s.conn.Write(writeCtx, websocket.MessageText, data)
		}
		s.queue.close()
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// writeJSON marshals and writes one frame with the configured write timeout.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}
