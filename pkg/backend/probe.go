package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeTTL is how long a probe result stays cached before the backend
// is asked again.
const DefaultProbeTTL = 60 * time.Second

// CachedProbe caches ReadinessStatus results so pre-flight checks don't
// hammer the backend. Process-wide: one instance wraps the backend for the
// lifetime of the driver. Thread-safe reads; Refresh forces a re-probe.
type CachedProbe struct {
	backend Backend
	ttl     time.Duration

	mu        sync.Mutex
	status    *ReadinessStatus
	fetchedAt time.Time
}

// NewCachedProbe wraps b with a TTL cache. A non-positive ttl uses the default.
func NewCachedProbe(b Backend, ttl time.Duration) *CachedProbe {
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}
	return &CachedProbe{backend: b, ttl: ttl}
}

// Status returns the cached readiness status, probing the backend if the
// cache is empty or stale. A probe transport failure yields an unavailable
// status rather than an error — the loop treats it as a gate, not a crash.
func (p *CachedProbe) Status(ctx context.Context) *ReadinessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.status
	}
	return p.refreshLocked(ctx)
}

// Refresh discards the cache and probes immediately.
func (p *CachedProbe) Refresh(ctx context.Context) *ReadinessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *CachedProbe) refreshLocked(ctx context.Context) *ReadinessStatus {
	status, err := p.backend.ProbeReadiness(ctx)
	if err != nil {
		slog.Warn("Readiness probe failed", "error", err)
		status = &ReadinessStatus{
			Issues: []string{"readiness probe failed: " + err.Error()},
		}
	}
	p.status = status
	p.fetchedAt = time.Now()
	return status
}
