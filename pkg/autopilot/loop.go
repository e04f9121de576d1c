// Package autopilot drives a task to completion through repeated backend
// calls. The loop owns the session lifecycle for SINGLE mode end to end:
// readiness gate, iteration engine, completion analysis, journaling, and
// event publication. DUAL mode reuses the same lifecycle and iteration
// engine through Begin, RunSegment, and Complete.
package autopilot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/analyzer"
	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// DefaultMaxConsecutiveErrors bounds uninterrupted backend failures before
// the session fails.
const DefaultMaxConsecutiveErrors = 3

// Config tunes the loop. Zero values take defaults.
type Config struct {
	MaxConsecutiveErrors int
	ContextTailChars     int
	// PublishVerdicts enables analyzer_verdict events, off by default
	// because verdict payloads are verbose.
	PublishVerdicts bool
	LogicBackoff    time.Duration
	NetworkBackoff  time.Duration
	QuotaBackoff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.ContextTailChars <= 0 {
		c.ContextTailChars = DefaultContextTailChars
	}
	if c.LogicBackoff <= 0 {
		c.LogicBackoff = DefaultLogicBackoff
	}
	if c.NetworkBackoff <= 0 {
		c.NetworkBackoff = DefaultNetworkBackoff
	}
	if c.QuotaBackoff <= 0 {
		c.QuotaBackoff = DefaultQuotaBackoff
	}
	return c
}

// Loop is the autonomous driver for one backend. Safe for concurrent Run
// calls; each call owns its own session.
type Loop struct {
	backend  backend.Backend
	probe    *backend.CachedProbe
	journal  *journal.Journal
	bus      *hookbus.Bus
	analyzer *analyzer.Analyzer
	cfg      Config
	logger   *slog.Logger
}

// New assembles a loop over its collaborators.
func New(b backend.Backend, probe *backend.CachedProbe, j *journal.Journal, bus *hookbus.Bus, a *analyzer.Analyzer, cfg Config) *Loop {
	return &Loop{
		backend:  b,
		probe:    probe,
		journal:  j,
		bus:      bus,
		analyzer: a,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default().With("component", "autopilot"),
	}
}

// Run drives task in SINGLE mode: one segment spanning the full iteration
// budget, one journal record, exactly one session_completed event.
func (l *Loop) Run(ctx context.Context, task models.Task) *models.Result {
	w, failure := l.Begin(ctx, task)
	if failure != nil {
		return failure
	}
	return l.Resume(ctx, w, task)
}

// Resume runs the iteration loop over an established session. Split from Run
// so callers that need the session id before the loop starts (the HTTP layer)
// can call Begin themselves.
func (l *Loop) Resume(ctx context.Context, w *journal.Writer, task models.Task) *models.Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if task.OverallTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.OverallTimeout)
		defer cancel()
	}

	seg := l.runSegment(runCtx, w, task, Segment{
		Role:      models.RoleSingle,
		Prompt:    task.Prompt,
		Budget:    task.MaxIterations,
		ModelHint: task.BackendModelHint,
	})
	return l.finish(w, seg, runCtx, ctx)
}

// Begin validates the task, opens the session journal, publishes
// session_created, and runs the readiness gate. A non-nil result is
// terminal: the session (if one was created) is already closed.
func (l *Loop) Begin(ctx context.Context, task models.Task) (*journal.Writer, *models.Result) {
	if err := task.Validate(); err != nil {
		return nil, &models.Result{
			Status:  models.StatusFailed,
			Message: err.Error(),
		}
	}

	w, err := l.journal.Create(task)
	if err != nil {
		return nil, &models.Result{
			Status:  models.StatusFailed,
			Message: err.Error(),
		}
	}
	l.logger.Info("Session started",
		"session_id", w.SessionID(),
		"mode", task.Mode,
		"max_iterations", task.MaxIterations)
	l.bus.Publish(hookbus.Event{
		Type:      hookbus.EventSessionCreated,
		SessionID: w.SessionID(),
		Payload: hookbus.SessionCreatedPayload{
			Mode:             task.Mode,
			WorkingDirectory: task.WorkingDirectory,
			InitialPrompt:    task.Prompt,
		},
	})

	if res := l.gateReadiness(ctx, w); res != nil {
		return nil, res
	}
	return w, nil
}

// RunSegment exposes the iteration engine to the dual-agent coordinator.
// The caller owns the journal writer and the session lifecycle.
func (l *Loop) RunSegment(ctx context.Context, w *journal.Writer, task models.Task, seg Segment) *SegmentResult {
	return l.runSegment(ctx, w, task, seg)
}

// gateReadiness checks the cached probe before the first backend call. An
// unavailable backend fails the session with zero iterations; partial health
// proceeds with a warning.
func (l *Loop) gateReadiness(ctx context.Context, w *journal.Writer) *models.Result {
	status := l.probe.Status(ctx)
	if status.CanProceed {
		if status.Degraded {
			l.logger.Warn("Backend partially ready, proceeding", "issues", status.Issues)
		}
		return nil
	}

	kind := backend.KindNotInstalled
	if status.Installed {
		kind = backend.KindAuthRequired
	}
	reason := "backend unavailable"
	if len(status.Issues) > 0 {
		reason = status.Issues[0]
	}
	l.logger.Error("Backend readiness gate failed", "kind", kind, "issues", status.Issues)
	eventType := hookbus.EventBackendError
	if kind == backend.KindAuthRequired {
		eventType = hookbus.EventBackendAuthRequired
	}
	l.bus.Publish(hookbus.Event{
		Type:      eventType,
		SessionID: w.SessionID(),
		Payload:   hookbus.BackendErrorPayload{Kind: string(kind), Message: reason},
	})
	return l.Complete(w, &models.Result{
		SessionID:     w.SessionID(),
		Status:        models.StatusFailed,
		ErrorKind:     string(kind),
		Message:       reason,
		RecoveryHints: kind.RecoveryHints(),
	})
}

// finish maps a segment outcome onto the terminal session state.
func (l *Loop) finish(w *journal.Writer, seg *SegmentResult, runCtx, parentCtx context.Context) *models.Result {
	res := &models.Result{
		SessionID:    w.SessionID(),
		Iterations:   seg.Iterations,
		QualityScore: seg.Verdict.QualityScore,
		FinalText:    seg.LastText,
	}

	switch seg.Outcome {
	case SegmentCompleted:
		res.Status = models.StatusCompleted
		res.Success = true
		res.Message = seg.Verdict.Reason

	case SegmentExhausted:
		// Budget ran out. Completed unless the last response still looks
		// broken; a final error pattern means the work is not done.
		if hasFamily(seg.Verdict, models.PatternErrorNeedsFixing) {
			res.Status = models.StatusFailed
			res.Message = "max iterations reached with unresolved errors"
		} else {
			res.Status = models.StatusCompleted
			res.Success = true
			res.Message = "max iterations reached"
		}

	case SegmentAborted:
		res.Status = models.StatusAborted
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parentCtx.Err() == nil {
			res.Message = "overall timeout exceeded"
			res.ErrorKind = string(backend.KindTimeout)
		} else {
			res.Message = "stopped by request"
		}

	case SegmentFailed:
		res.Status = models.StatusFailed
		res.ErrorKind = string(seg.ErrKind)
		if seg.Err != nil {
			res.Message = seg.Err.Error()
		}
		res.RecoveryHints = seg.ErrKind.RecoveryHints()
	}

	return l.Complete(w, res)
}

// Complete seals the session: terminal journal status, duration stamp, and
// exactly one session_completed event. Journal close failure downgrades a
// completed result but never suppresses the event.
func (l *Loop) Complete(w *journal.Writer, res *models.Result) *models.Result {
	res.DurationMs = time.Since(w.StartedAt()).Milliseconds()
	if err := w.Close(res.Status); err != nil && !errors.Is(err, journal.ErrJournalClosed) {
		l.logger.Error("Failed to close session journal", "session_id", w.SessionID(), "error", err)
		if res.Status == models.StatusCompleted {
			res.Status = models.StatusFailed
			res.Success = false
			res.Message = "journal close failed: " + err.Error()
		}
	}
	l.logger.Info("Session finished",
		"session_id", w.SessionID(),
		"status", res.Status,
		"iterations", res.Iterations,
		"duration_ms", res.DurationMs)
	l.bus.Publish(hookbus.Event{
		Type:      hookbus.EventSessionCompleted,
		SessionID: w.SessionID(),
		Payload: hookbus.SessionCompletedPayload{
			Status:     res.Status,
			Iterations: res.Iterations,
			DurationMs: res.DurationMs,
			ErrorKind:  res.ErrorKind,
			Reason:     res.Message,
		},
	})
	return res
}

// Bus exposes the event bus for callers that publish their own events.
func (l *Loop) Bus() *hookbus.Bus { return l.bus }

func hasFamily(v models.CompletionVerdict, family models.PatternFamily) bool {
	for _, m := range v.DetectedPatterns {
		if m.Family == family {
			return true
		}
	}
	return false
}
