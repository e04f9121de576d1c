package autopilot

import (
	"context"
	"errors"
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/analyzer"
	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// Segment describes one bounded run of the iteration engine: a role, a
// seed prompt, and an iteration budget. SINGLE mode runs one segment for the
// whole task; DUAL mode runs one segment per role turn, all appending to the
// same session journal.
type Segment struct {
	Role        models.Role
	Prompt      string
	Budget      int
	ModelHint   string
	ResumeToken string
}

// SegmentOutcome classifies how a segment ended.
type SegmentOutcome string

const (
	// SegmentCompleted: the analyzer declared completion.
	SegmentCompleted SegmentOutcome = "completed"
	// SegmentExhausted: the iteration budget ran out without a completion verdict.
	SegmentExhausted SegmentOutcome = "exhausted"
	// SegmentFailed: a fatal error ended the segment (auth, error budget, journal I/O).
	SegmentFailed SegmentOutcome = "failed"
	// SegmentAborted: the context was cancelled (stop request or overall timeout).
	SegmentAborted SegmentOutcome = "aborted"
)

// SegmentResult reports a finished segment.
type SegmentResult struct {
	Outcome     SegmentOutcome
	Iterations  int
	LastText    string
	Verdict     models.CompletionVerdict
	ResumeToken string
	ErrKind     backend.ErrorKind
	Err         error
}

// runSegment drives up to seg.Budget backend calls, journaling every call
// (failures included), publishing one iteration_completed event per call, and
// consulting the analyzer after each success. The consecutive-error budget
// and kind-scaled backoff live here so every role gets the same failure
// semantics.
func (l *Loop) runSegment(ctx context.Context, w *journal.Writer, task models.Task, seg Segment) *SegmentResult {
	res := &SegmentResult{ResumeToken: seg.ResumeToken}
	retries := newRetryState(l.cfg.LogicBackoff, l.cfg.NetworkBackoff, l.cfg.QuotaBackoff)
	consecutiveErrors := 0
	lastText := ""

	for n := 1; n <= seg.Budget; n++ {
		if err := ctx.Err(); err != nil {
			res.Outcome = SegmentAborted
			res.Err = err
			return res
		}

		iterationN := w.IterationCount() + 1
		prompt := buildIterationPrompt(n, seg.Prompt, lastText, l.cfg.ContextTailChars)
		l.bus.Publish(hookbus.Event{
			Type:      hookbus.EventIterationStarted,
			SessionID: w.SessionID(),
			Payload:   hookbus.IterationStartedPayload{N: iterationN, Role: seg.Role},
		})

		started := time.Now()
		resp, err := l.backend.Execute(ctx, prompt, backend.Options{
			Model:              seg.ModelHint,
			WorkDir:            task.WorkingDirectory,
			Timeout:            task.PerCallTimeout,
			AllowedToolset:     task.AllowedToolset,
			ResumeSessionToken: res.ResumeToken,
		})
		duration := time.Since(started)

		if err != nil {
			kind := backend.KindOf(err)
			if jErr := l.journalFailure(w, seg, prompt, err, started, duration); jErr != nil {
				res.Outcome = SegmentFailed
				res.ErrKind = kind
				res.Err = jErr
				return res
			}
			res.Iterations++
			l.publishFailure(w.SessionID(), iterationN, seg.Role, kind, err, duration)

			if ctx.Err() != nil {
				res.Outcome = SegmentAborted
				res.Err = ctx.Err()
				return res
			}
			if !kind.Retryable() || !task.ContinueOnError {
				res.Outcome = SegmentFailed
				res.ErrKind = kind
				res.Err = err
				return res
			}
			consecutiveErrors++
			if consecutiveErrors >= l.cfg.MaxConsecutiveErrors {
				res.Outcome = SegmentFailed
				res.ErrKind = kind
				res.Err = errors.New("consecutive error limit exhausted")
				return res
			}
			if sleepErr := sleep(ctx, retries.next(kind)); sleepErr != nil {
				res.Outcome = SegmentAborted
				res.Err = sleepErr
				return res
			}
			continue
		}

		consecutiveErrors = 0
		retries.reset()
		if resp.BackendSessionToken != "" {
			res.ResumeToken = resp.BackendSessionToken
		}

		iter := models.Iteration{
			Prompt:              prompt,
			Response:            *resp,
			DurationMs:          duration.Milliseconds(),
			Timestamp:           started,
			Role:                seg.Role,
			BackendSessionToken: res.ResumeToken,
		}
		if err := w.Append(iter); err != nil {
			res.Outcome = SegmentFailed
			res.ErrKind = backend.KindInternal
			res.Err = err
			return res
		}
		res.Iterations++
		lastText = resp.Text
		res.LastText = resp.Text

		verdict := l.analyzer.Analyze(analyzer.Input{
			Text:          resp.Text,
			ExitStatus:    resp.ExitStatus,
			Duration:      duration,
			IterationN:    n,
			MaxIterations: seg.Budget,
		})
		res.Verdict = verdict

		l.bus.Publish(hookbus.Event{
			Type:      hookbus.EventIterationCompleted,
			SessionID: w.SessionID(),
			Payload: hookbus.IterationCompletedPayload{
				N:          iterationN,
				Role:       seg.Role,
				ExitStatus: resp.ExitStatus,
				DurationMs: duration.Milliseconds(),
				TextLen:    len(resp.Text),
			},
		})
		if l.cfg.PublishVerdicts {
			l.bus.Publish(hookbus.Event{
				Type:      hookbus.EventAnalyzerVerdict,
				SessionID: w.SessionID(),
				Payload:   hookbus.VerdictPayload{N: iterationN, Verdict: verdict},
			})
		}

		if verdict.IsComplete && !verdict.ContinuationNeeded {
			res.Outcome = SegmentCompleted
			return res
		}
	}

	res.Outcome = SegmentExhausted
	return res
}

// journalFailure appends a failed backend call as an iteration: non-zero exit
// status, the error text as the response body.
func (l *Loop) journalFailure(w *journal.Writer, seg Segment, prompt string, callErr error, started time.Time, duration time.Duration) error {
	return w.Append(models.Iteration{
		Prompt: prompt,
		Response: models.Response{
			Text:         callErr.Error(),
			ExitStatus:   1,
			HasError:     true,
			FilesTouched: []string{},
			CommandsRun:  []string{},
			ToolsInvoked: []string{},
		},
		DurationMs: duration.Milliseconds(),
		Timestamp:  started,
		Role:       seg.Role,
	})
}

func (l *Loop) publishFailure(sessionID string, n int, role models.Role, kind backend.ErrorKind, callErr error, duration time.Duration) {
	l.bus.Publish(hookbus.Event{
		Type:      hookbus.EventIterationCompleted,
		SessionID: sessionID,
		Payload: hookbus.IterationCompletedPayload{
			N:          n,
			Role:       role,
			ExitStatus: 1,
			DurationMs: duration.Milliseconds(),
		},
	})
	eventType := hookbus.EventBackendError
	if kind == backend.KindAuthRequired {
		eventType = hookbus.EventBackendAuthRequired
	}
	l.bus.Publish(hookbus.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   hookbus.BackendErrorPayload{Kind: string(kind), Message: callErr.Error()},
	})
}
