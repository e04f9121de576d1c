package observer

import (
	"sync"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
)

// seqEvent is one event with its per-connection sequence number.
type seqEvent struct {
	seq   uint64
	event hookbus.Event
}

// frameRing retains the most recent frames sent on a connection so a
// reconnecting or resyncing observer can replay from a sequence number.
// Fixed capacity; older frames fall off.
type frameRing struct {
	mu    sync.Mutex
	buf   []seqEvent
	size  int
	next  int
	count int
}

func newFrameRing(size int) *frameRing {
	return &frameRing{buf: make([]seqEvent, size), size: size}
}

func (r *frameRing) add(seq uint64, ev hookbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = seqEvent{seq: seq, event: ev}
	r.next = (r.next + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// oldest returns the lowest retained sequence number, or 0 when empty.
func (r *frameRing) oldest() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	idx := (r.next - r.count + r.size) % r.size
	return r.buf[idx].seq
}

// since returns retained frames with seq > fromSeq in order, and whether the
// request was fully satisfiable (false when frames between fromSeq and the
// oldest retained frame have fallen off).
func (r *frameRing) since(fromSeq uint64) ([]seqEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil, true
	}
	start := (r.next - r.count + r.size) % r.size
	oldestSeq := r.buf[start].seq
	complete := fromSeq+1 >= oldestSeq
	var out []seqEvent
	for i := 0; i < r.count; i++ {
		se := r.buf[(start+i)%r.size]
		if se.seq > fromSeq {
			out = append(out, se)
		}
	}
	return out, complete
}

// eventRing retains recently published events pool-wide for admission
// backfill.
type eventRing struct {
	mu    sync.Mutex
	buf   []hookbus.Event
	size  int
	next  int
	count int
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]hookbus.Event, size), size: size}
}

func (r *eventRing) add(ev hookbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// lastMatching returns up to limit most recent events matching sub, oldest
// first.
func (r *eventRing) lastMatching(sub Subscription, limit int) []hookbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 || limit <= 0 {
		return nil
	}
	var out []hookbus.Event
	// Walk newest to oldest, then reverse.
	for i := 0; i < r.count && len(out) < limit; i++ {
		idx := (r.next - 1 - i + r.size*2) % r.size
		ev := r.buf[idx]
		if sub.Matches(ev) {
			out = append(out, ev)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
