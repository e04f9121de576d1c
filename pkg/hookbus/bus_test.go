package hookbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription channel closed unexpectedly")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	bus := New()
	all := bus.Subscribe(Filter{}, 8)
	defer all.Close()
	onlyCompleted := bus.Subscribe(Filter{Types: []EventType{EventSessionCompleted}}, 8)
	defer onlyCompleted.Close()

	bus.Publish(Event{Type: EventSessionCreated, SessionID: "s1"})
	bus.Publish(Event{Type: EventSessionCompleted, SessionID: "s1"})

	assert.Equal(t, EventSessionCreated, recv(t, all).Type)
	assert.Equal(t, EventSessionCompleted, recv(t, all).Type)
	assert.Equal(t, EventSessionCompleted, recv(t, onlyCompleted).Type)
	select {
	case e := <-onlyCompleted.Events():
		t.Fatalf("unexpected extra event %q", e.Type)
	default:
	}
}

func TestFilterBySession(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{SessionID: "s2"}, 8)
	defer sub.Close()

	bus.Publish(Event{Type: EventIterationStarted, SessionID: "s1"})
	bus.Publish(Event{Type: EventIterationStarted, SessionID: "s2"})

	assert.Equal(t, "s2", recv(t, sub).SessionID)
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"empty matches everything", Filter{}, Event{Type: EventHandoff, SessionID: "x"}, true},
		{"type match", Filter{Types: []EventType{EventHandoff}}, Event{Type: EventHandoff}, true},
		{"type mismatch", Filter{Types: []EventType{EventHandoff}}, Event{Type: EventSessionCreated}, false},
		{"session match", Filter{SessionID: "a"}, Event{Type: EventHandoff, SessionID: "a"}, true},
		{"session mismatch", Filter{SessionID: "a"}, Event{Type: EventHandoff, SessionID: "b"}, false},
		{
			"type and session must both match",
			Filter{Types: []EventType{EventHandoff}, SessionID: "a"},
			Event{Type: EventSessionCreated, SessionID: "a"},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.event))
		})
	}
}

func TestPublishStampsOccurredAt(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{}, 1)
	defer sub.Close()

	bus.Publish(Event{Type: EventSessionCreated})
	assert.False(t, recv(t, sub).OccurredAt.IsZero())

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: EventSessionCreated, OccurredAt: fixed})
	assert.Equal(t, fixed, recv(t, sub).OccurredAt)
}

func TestSlowSubscriberShedsOldest(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{}, 2)
	defer sub.Close()

	// Nobody draining: the third publish evicts the first.
	bus.Publish(Event{Type: EventIterationStarted, SessionID: "1"})
	bus.Publish(Event{Type: EventIterationStarted, SessionID: "2"})
	bus.Publish(Event{Type: EventIterationStarted, SessionID: "3"})

	assert.Equal(t, int64(1), sub.Dropped())
	assert.Equal(t, "2", recv(t, sub).SessionID)
	assert.Equal(t, "3", recv(t, sub).SessionID)
}

func TestCloseDetachesAndClosesChannel(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(Filter{}, 4)
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	sub.Close() // idempotent
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after close must not panic on the closed channel.
	bus.Publish(Event{Type: EventSessionCreated})

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sub := bus.Subscribe(Filter{}, 4)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range sub.Events() {
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Type: EventIterationCompleted, SessionID: "s"})
	}
	wg.Wait()
	assert.Equal(t, 0, bus.SubscriberCount())
}
