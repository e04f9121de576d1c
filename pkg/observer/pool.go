// Package observer manages the long-lived channels that stream hook events
// to external dashboards. The pool admits connections through a handshake
// (origin allowlist, auth token, protocol version, capacity), fans events
// from the bus into bounded per-session queues, and recycles sessions that
// go unhealthy or idle. Publishers are never blocked by observer slowness.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
	"github.com/taskpilot-ai/taskpilot/pkg/version"
)

// retainGrace is how long a closed session's replay state survives for
// reconnection.
const retainGrace = time.Minute

// retainedState is the replay state kept after a session closes so the same
// observer can resume with (connectionId, lastSeenSeq).
type retainedState struct {
	ring         *frameRing
	subscription Subscription
	expiresAt    time.Time
}

// Pool owns all observer sessions.
type Pool struct {
	cfg    Config
	bus    *hookbus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	retained map[string]*retainedState
	sweepIdx int

	backlog *eventRing

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPool builds a pool over the bus. Call Start to begin fan-out.
func NewPool(bus *hookbus.Bus, cfg Config) (*Pool, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		cfg:      cfg,
		bus:      bus,
		logger:   slog.Default().With("component", "observer_pool"),
		sessions: make(map[string]*Session),
		retained: make(map[string]*retainedState),
		backlog:  newEventRing(cfg.BacklogSize),
		stopped:  make(chan struct{}),
	}, nil
}

// Start launches the fan-out bridge and the maintenance sweep. Runs until
// ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	sub := p.bus.Subscribe(hookbus.Filter{}, p.cfg.QueueSize*2)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopped:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				p.fanout(ev)
			}
		}
	}()
	go p.maintenanceLoop(ctx)
}

// Stop closes every session and halts the pool.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		for _, s := range p.snapshot() {
			s.close(StateClosed, "server shutting down")
		}
	})
}

// fanout offers one event to every eligible session. Non-blocking per
// session; drops are the session's problem, never the publisher's.
func (p *Pool) fanout(ev hookbus.Event) {
	p.backlog.add(ev)
	for _, s := range p.snapshot() {
		s.enqueue(ev)
	}
}

func (p *Pool) snapshot() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	return out
}

// ActiveConnections returns the current pool size.
func (p *Pool) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// HandleConnection admits one upgraded websocket connection and services it
// until close. Blocks, mirroring the HTTP handler's lifetime.
func (p *Pool) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	hs, err := p.readHandshake(ctx, conn)
	if err != nil {
		p.logger.Warn("Observer handshake failed", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	if reason := p.admitCheck(hs); reason != "" {
		p.rejectAndClose(ctx, conn, reason)
		return
	}

	session := newSession(ctx, conn, hs.Subscription, p.cfg, p.unregister)

	p.mu.Lock()
	// Re-check capacity under the lock; admitCheck ran unlocked.
	if len(p.sessions) >= p.cfg.MaxConnections {
		p.mu.Unlock()
		p.rejectAndClose(ctx, conn, ReasonOverCapacity)
		return
	}
	p.sessions[session.ID] = session
	resumed := p.takeRetainedLocked(hs.ResumeConnectionID)
	p.mu.Unlock()

	reply := HandshakeReply{
		Accepted:      true,
		ConnectionID:  session.ID,
		ServerVersion: version.Full(),
	}
	if err := session.writeJSON(reply); err != nil {
		session.close(StateFailed, "handshake reply failed")
		return
	}

	p.bus.Publish(hookbus.Event{
		Type:       hookbus.EventObserverAdmitted,
		OccurredAt: time.Now(),
		Payload:    hookbus.ObserverPayload{ConnectionID: session.ID},
	})

	// Replay missed frames from the prior connection, or backfill recent
	// events for a fresh subscriber.
	switch {
	case resumed != nil:
		frames, complete := resumed.ring.since(hs.LastSeenSeq)
		if complete {
			session.replay(frames)
		} else {
			session.queue.pushControl(ResyncOverflowFrame{
				Type:     "resync.overflow",
				FromSeq:  hs.LastSeenSeq,
				Oldest:   resumed.ring.oldest(),
				Guidance: "missed more events than the backlog retains; reload session state from the journal",
			})
		}
	case p.cfg.EnableBackfill && hs.BackfillCount > 0:
		for _, ev := range p.backlog.lastMatching(hs.Subscription, hs.BackfillCount) {
			session.enqueue(ev)
		}
	}

	session.run()
}

// readHandshake reads the first client frame within the acquire timeout.
func (p *Pool) readHandshake(ctx context.Context, conn *websocket.Conn) (*Handshake, error) {
	hsCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	_, data, err := conn.Read(hsCtx)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	return &hs, nil
}

// admitCheck validates a handshake, returning a reject reason or "".
func (p *Pool) admitCheck(hs *Handshake) string {
	if hs.ProtocolVersion != ProtocolVersion {
		return ReasonProtocolMismatch
	}
	if !p.originAllowed(hs.Origin) {
		return ReasonOriginDenied
	}
	if p.cfg.AuthToken != "" && hs.AuthToken != p.cfg.AuthToken {
		return ReasonAuthFailed
	}
	p.mu.Lock()
	over := len(p.sessions) >= p.cfg.MaxConnections
	p.mu.Unlock()
	if over {
		return ReasonOverCapacity
	}
	return ""
}

// originAllowed checks the declared origin against the allowlist. An empty
// allowlist admits any origin; the transport-level Origin header is enforced
// separately by the HTTP layer.
func (p *Pool) originAllowed(origin string) bool {
	if len(p.cfg.OriginAllowlist) == 0 {
		return true
	}
	for _, allowed := range p.cfg.OriginAllowlist {
		if allowed == origin {
			return true
		}
	}
	return false
}

func (p *Pool) rejectAndClose(ctx context.Context, conn *websocket.Conn, reason string) {
	reply := HandshakeReply{Accepted: false, Reason: reason}
	if data, err := json.Marshal(reply); err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		_ = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
	}
	_ = conn.Close(websocket.StatusPolicyViolation, reason)
	p.logger.Info("Observer admission rejected", "reason", reason)
}

// unregister removes a closed session, retains its replay state for
// reconnection, and publishes observer_dropped.
func (p *Pool) unregister(s *Session) {
	p.mu.Lock()
	delete(p.sessions, s.ID)
	p.retained[s.ID] = &retainedState{
		ring:         s.ring,
		subscription: s.subscription,
		expiresAt:    time.Now().Add(retainGrace),
	}
	p.mu.Unlock()

	p.bus.Publish(hookbus.Event{
		Type:       hookbus.EventObserverDropped,
		OccurredAt: time.Now(),
		Payload: hookbus.ObserverPayload{
			ConnectionID: s.ID,
			Reason:       string(s.State()),
		},
	})
}

// takeRetainedLocked claims a prior connection's replay state, if still
// within the grace window. Caller holds p.mu.
func (p *Pool) takeRetainedLocked(connectionID string) *retainedState {
	if connectionID == "" {
		return nil
	}
	st, ok := p.retained[connectionID]
	if !ok {
		return nil
	}
	delete(p.retained, connectionID)
	if time.Now().After(st.expiresAt) {
		return nil
	}
	return st
}

// maintenanceLoop expires retained replay state and sweeps sessions for TTL
// and idleness on the health-check interval.
func (p *Pool) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case <-ticker.C:
		}
		p.expireRetained()
		for _, s := range p.sweepOrder() {
			s.checkIdle()
		}
	}
}

func (p *Pool) expireRetained() {
	now := time.Now()
	p.mu.Lock()
	for id, st := range p.retained {
		if now.After(st.expiresAt) {
			delete(p.retained, id)
		}
	}
	p.mu.Unlock()
}

// sweepOrder orders sessions for the maintenance sweep per the configured
// strategy: roundRobin rotates the start point, leastLoaded visits the
// emptiest queues first, weighted visits the heaviest droppers first.
func (p *Pool) sweepOrder() []*Session {
	sessions := p.snapshot()
	switch p.cfg.LoadBalancingStrategy {
	case StrategyLeastLoaded:
		sort.Slice(sessions, func(a, b int) bool {
			return sessions[a].queue.depth() < sessions[b].queue.depth()
		})
	case StrategyWeighted:
		sort.Slice(sessions, func(a, b int) bool {
			return sessions[a].Drops() > sessions[b].Drops()
		})
	default:
		if len(sessions) > 1 {
			p.mu.Lock()
			p.sweepIdx = (p.sweepIdx + 1) % len(sessions)
			start := p.sweepIdx
			p.mu.Unlock()
			sessions = append(sessions[start:], sessions[:start]...)
		}
	}
	return sessions
}

// ServeHTTP upgrades the request and hands the connection to the pool, so
// the pool can be mounted directly as an endpoint.
func (p *Pool) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: p.cfg.OriginAllowlist,
	})
	if err != nil {
		p.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	p.HandleConnection(r.Context(), conn)
}
