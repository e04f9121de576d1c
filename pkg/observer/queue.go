package observer

import (
	"sync"
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
)

// coalescable event types are idempotent-by-latest: when an observer's queue
// is full, a newer event of the same type for the same session replaces the
// queued one instead of evicting unrelated events.
var coalescable = map[hookbus.EventType]bool{
	hookbus.EventIterationCompleted: true,
	hookbus.EventAnalyzerVerdict:    true,
}

// outItem is one queued outbound frame: either an event or a control frame
// (ping, resync overflow, close) already shaped for the wire.
type outItem struct {
	event   *hookbus.Event
	seq     uint64
	control any
}

// outQueue is the bounded per-session outbound queue. Enqueue never blocks;
// overflow applies the drop policy and counts drops in a rolling window.
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []outItem
	limit  int
	closed bool

	drops      int64
	windowN    int
	windowFrom time.Time
	window     time.Duration
}

func newOutQueue(limit int, window time.Duration) *outQueue {
	q := &outQueue{limit: limit, window: window, windowFrom: time.Now()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pushEvent enqueues an event frame, applying the drop policy on overflow.
// Returns true if something was dropped or coalesced away.
func (q *outQueue) pushEvent(ev hookbus.Event, seq uint64) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	item := outItem{event: &ev, seq: seq}
	if len(q.items) < q.limit {
		q.items = append(q.items, item)
		q.cond.Signal()
		return false
	}

	// Queue full. Coalesce if possible: replace the newest queued event of
	// the same type and session; its seq is kept so the client sees no gap
	// beyond the drop counters.
	if coalescable[ev.Type] {
		for i := len(q.items) - 1; i >= 0; i-- {
			it := q.items[i]
			if it.event != nil && it.event.Type == ev.Type && it.event.SessionID == ev.SessionID {
				q.items[i] = outItem{event: &ev, seq: it.seq}
				q.countDropLocked()
				return true
			}
		}
	}

	// Drop the oldest event item. Control frames are never dropped.
	for i, it := range q.items {
		if it.event != nil {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = item
			q.countDropLocked()
			return true
		}
	}
	// All queued items are control frames; drop the incoming event.
	q.countDropLocked()
	return true
}

// pushControl enqueues a control frame. Control frames bypass the event
// limit so heartbeats still flow on a saturated queue.
func (q *outQueue) pushControl(frame any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, outItem{control: frame})
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed.
func (q *outQueue) pop() (outItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return outItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *outQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// countDropLocked bumps the rolling-window drop counter.
func (q *outQueue) countDropLocked() {
	now := time.Now()
	if now.Sub(q.windowFrom) > q.window {
		q.windowFrom = now
		q.windowN = 0
	}
	q.windowN++
	q.drops++
}

// dropsInWindow returns drops counted in the current window.
func (q *outQueue) dropsInWindow() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if time.Since(q.windowFrom) > q.window {
		return 0
	}
	return q.windowN
}

// totalDrops returns the lifetime drop count.
func (q *outQueue) totalDrops() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
