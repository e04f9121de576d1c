package autopilot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskpilot-ai/taskpilot/pkg/backend"
)

// Default retry bases per error kind. Quota errors wait longest, transport
// flakiness (network/timeout) longer than backend logic errors.
const (
	DefaultLogicBackoff   = 1 * time.Second
	DefaultNetworkBackoff = 5 * time.Second
	DefaultQuotaBackoff   = 30 * time.Second
)

// retryState holds one exponential backoff per error kind class, reset
// whenever a backend call succeeds so a fresh error streak starts from the
// base interval again.
type retryState struct {
	logic   backoff.BackOff
	network backoff.BackOff
	quota   backoff.BackOff
}

func newRetryState(logicBase, networkBase, quotaBase time.Duration) *retryState {
	if logicBase <= 0 {
		logicBase = DefaultLogicBackoff
	}
	if networkBase <= 0 {
		networkBase = DefaultNetworkBackoff
	}
	if quotaBase <= 0 {
		quotaBase = DefaultQuotaBackoff
	}
	return &retryState{
		logic:   newExponential(logicBase),
		network: newExponential(networkBase),
		quota:   newExponential(quotaBase),
	}
}

func newExponential(base time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = 10 * base
	bo.MaxElapsedTime = 0 // the loop's own budgets bound retries
	bo.Reset()
	return bo
}

// next returns the delay before the next attempt after a failure of kind.
func (r *retryState) next(kind backend.ErrorKind) time.Duration {
	switch kind {
	case backend.KindQuotaExhausted:
		return r.quota.NextBackOff()
	case backend.KindNetwork, backend.KindTimeout, backend.KindTransport:
		return r.network.NextBackOff()
	default:
		return r.logic.NextBackOff()
	}
}

// reset restarts every backoff after a successful call.
func (r *retryState) reset() {
	r.logic.Reset()
	r.network.Reset()
	r.quota.Reset()
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
