package observer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
)

func TestFrameRingSinceComplete(t *testing.T) {
	r := newFrameRing(8)
	for seq := uint64(1); seq <= 5; seq++ {
		r.add(seq, startedEvent("s1"))
	}

	frames, complete := r.since(2)
	require.True(t, complete)
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(3), frames[0].seq)
	assert.Equal(t, uint64(5), frames[2].seq)
	assert.Equal(t, uint64(1), r.oldest())
}

func TestFrameRingSinceAfterOverflow(t *testing.T) {
	r := newFrameRing(3)
	for seq := uint64(1); seq <= 6; seq++ {
		r.add(seq, startedEvent("s1"))
	}
	// Only seqs 4..6 survive.
	assert.Equal(t, uint64(4), r.oldest())

	frames, complete := r.since(2)
	assert.False(t, complete, "seq 3 has fallen off the ring")
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(4), frames[0].seq)

	frames, complete = r.since(3)
	assert.True(t, complete, "fromSeq 3 means the client already has seq 3")
	assert.Len(t, frames, 3)
}

func TestFrameRingEmpty(t *testing.T) {
	r := newFrameRing(4)
	frames, complete := r.since(0)
	assert.True(t, complete)
	assert.Empty(t, frames)
	assert.Zero(t, r.oldest())
}

func TestFrameRingSinceCurrent(t *testing.T) {
	r := newFrameRing(4)
	r.add(1, startedEvent("s1"))
	r.add(2, startedEvent("s1"))

	frames, complete := r.since(2)
	assert.True(t, complete)
	assert.Empty(t, frames, "client is already caught up")
}

func TestEventRingLastMatchingHonoursLimit(t *testing.T) {
	r := newEventRing(16)
	for i := 0; i < 6; i++ {
		ev := startedEvent("s1")
		ev.Payload = fmt.Sprintf("ev-%d", i)
		r.add(ev)
	}

	out := r.lastMatching(Subscription{}, 3)
	require.Len(t, out, 3)
	// Most recent three, oldest first.
	assert.Equal(t, "ev-3", out[0].Payload)
	assert.Equal(t, "ev-5", out[2].Payload)
}

func TestEventRingLastMatchingAppliesSubscription(t *testing.T) {
	r := newEventRing(16)
	r.add(startedEvent("s1"))
	r.add(completedEvent("s1"))
	r.add(startedEvent("s2"))
	r.add(completedEvent("s2"))

	out := r.lastMatching(Subscription{SessionIDs: []string{"s2"}}, 10)
	require.Len(t, out, 2)
	assert.Equal(t, hookbus.EventIterationStarted, out[0].Type)
	assert.Equal(t, "s2", out[0].SessionID)

	out = r.lastMatching(Subscription{EventTypes: []string{string(hookbus.EventIterationCompleted)}}, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "s1", out[0].SessionID)
	assert.Equal(t, "s2", out[1].SessionID)

	assert.Empty(t, r.lastMatching(Subscription{SessionIDs: []string{"s3"}}, 10))
	assert.Empty(t, r.lastMatching(Subscription{}, 0))
}

func TestEventRingOverwritesOldest(t *testing.T) {
	r := newEventRing(2)
	for i := 0; i < 5; i++ {
		ev := startedEvent("s1")
		ev.Payload = i
		r.add(ev)
	}
	out := r.lastMatching(Subscription{}, 10)
	require.Len(t, out, 2)
	assert.Equal(t, 3, out[0].Payload)
	assert.Equal(t, 4, out[1].Payload)
}
