// Package hookbus is the in-process typed event bus. Every state-changing
// transition in the driver (session create/close, iteration append, handoff)
// publishes exactly one event before returning to its caller; delivery from a
// subscriber's queue to the subscriber is asynchronous and bounded, so slow
// consumers never block publishers.
//
// Events are ephemeral: if the process dies, buffered undelivered events are
// lost. The journal is the source of truth; the bus is a convenience layer.
package hookbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType enumerates the closed set of lifecycle events.
type EventType string

const (
	EventSessionCreated      EventType = "session_created"
	EventSessionCompleted    EventType = "session_completed"
	EventIterationStarted    EventType = "iteration_started"
	EventIterationCompleted  EventType = "iteration_completed"
	EventHandoff             EventType = "handoff"
	EventAnalyzerVerdict     EventType = "analyzer_verdict"
	EventBackendError        EventType = "backend_error"
	EventBackendAuthRequired EventType = "backend_auth_required"
	EventObserverAdmitted    EventType = "observer_admitted"
	EventObserverDropped     EventType = "observer_dropped"
)

// Event is one published lifecycle message.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

// Filter selects events for a subscriber. Empty Types matches every type;
// empty SessionID matches every session.
type Filter struct {
	Types     []EventType
	SessionID string
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Subscription is one subscriber's bounded queue on the bus.
type Subscription struct {
	filter  Filter
	queue   chan Event
	dropped atomic.Int64
	once    sync.Once
	bus     *Bus

	// closeMu arbitrates Publish sends against Close: Publish holds the read
	// side while enqueueing so the channel is never closed mid-send.
	closeMu sync.RWMutex
	closed  bool
}

// Events returns the subscriber's delivery channel. Drain it from a dedicated
// goroutine; the channel closes after Close.
func (s *Subscription) Events() <-chan Event { return s.queue }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		s.closeMu.Lock()
		s.closed = true
		close(s.queue)
		s.closeMu.Unlock()
	})
}

// enqueue delivers e without blocking, shedding the oldest queued event when
// full. No-op after Close.
func (s *Subscription) enqueue(e Event) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.queue <- e:
			return
		default:
			// Queue full: shed the oldest entry and retry. The loop
			// terminates because shedding frees a slot for our send.
			select {
			case <-s.queue:
				s.dropped.Add(1)
			default:
			}
		}
	}
}

// defaultQueueSize is the per-subscriber queue bound when the caller passes 0.
const defaultQueueSize = 256

// Bus fans events out to subscribers. The subscriber set is copy-on-write:
// Publish reads an immutable snapshot, so subscribe/unsubscribe never block
// publishers.
type Bus struct {
	mu   sync.Mutex // serialises subscriber-set updates only
	subs atomic.Pointer[[]*Subscription]
}

// New creates an empty bus.
func New() *Bus {
	b := &Bus{}
	empty := make([]*Subscription, 0)
	b.subs.Store(&empty)
	return b
}

// Subscribe registers a new subscriber with the given filter and queue bound.
func (b *Bus) Subscribe(filter Filter, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sub := &Subscription{
		filter: filter,
		queue:  make(chan Event, queueSize),
		bus:    b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	old := *b.subs.Load()
	next := make([]*Subscription, len(old)+1)
	copy(next, old)
	next[len(old)] = sub
	b.subs.Store(&next)
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := *b.subs.Load()
	next := make([]*Subscription, 0, len(old))
	for _, s := range old {
		if s != sub {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)
}

// Publish delivers e to every matching subscriber's queue before returning.
// A full queue sheds its oldest event to make room, so the publisher never
// blocks; the drop is counted on the subscription.
func (b *Bus) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	for _, sub := range *b.subs.Load() {
		if sub.filter.Matches(e) {
			sub.enqueue(e)
		}
	}
}

// SubscriberCount returns the current number of subscriptions.
func (b *Bus) SubscriberCount() int {
	return len(*b.subs.Load())
}
