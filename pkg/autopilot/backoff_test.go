package autopilot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/taskpilot/pkg/backend"
)

func TestRetryStateOrdersKindsByBase(t *testing.T) {
	// Base intervals are far enough apart that the randomized first delays
	// cannot overlap.
	r := newRetryState(time.Millisecond, 5*time.Millisecond, 30*time.Millisecond)

	logic := r.next(backend.KindInternal)
	network := r.next(backend.KindNetwork)
	quota := r.next(backend.KindQuotaExhausted)

	assert.Less(t, logic, network)
	assert.Less(t, network, quota)
}

func TestRetryStateGrowsAndResets(t *testing.T) {
	r := newRetryState(time.Millisecond, 5*time.Millisecond, 30*time.Millisecond)

	var total time.Duration
	for i := 0; i < 6; i++ {
		total += r.next(backend.KindNetwork)
	}
	// Six exponential steps from a 5ms base exceed six base intervals.
	assert.Greater(t, total, 30*time.Millisecond)

	r.reset()
	assert.Less(t, r.next(backend.KindNetwork), 10*time.Millisecond)
}

func TestRetryStateTimeoutUsesNetworkClass(t *testing.T) {
	r := newRetryState(time.Millisecond, 5*time.Millisecond, 30*time.Millisecond)
	d := r.next(backend.KindTimeout)
	assert.GreaterOrEqual(t, d, 2500*time.Microsecond)
	assert.LessOrEqual(t, d, 7500*time.Microsecond)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sleep(ctx, time.Minute))

	require.NoError(t, sleep(context.Background(), 0))
	require.NoError(t, sleep(context.Background(), time.Millisecond))
}
