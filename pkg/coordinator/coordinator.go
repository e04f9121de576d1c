// Package coordinator orchestrates DUAL mode: planner and executor roles
// alternate in PLAN, EXECUTE, REVIEW cycles over one shared session, with a
// numeric quality gate deciding whether a cycle's work is accepted. It reuses
// the autopilot loop's session lifecycle and iteration engine; the
// coordinator contributes only the role choreography on top.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskpilot-ai/taskpilot/pkg/autopilot"
	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

const (
	// DefaultMaxCycles bounds PLAN/EXECUTE/REVIEW rounds per session.
	DefaultMaxCycles = 3
	// DefaultQualityGateThreshold is the review score (scaled to [0,1])
	// required to accept a cycle's work.
	DefaultQualityGateThreshold = 0.8
	// DefaultExecutorBudgetPerCycle caps executor iterations within one
	// execute attempt.
	DefaultExecutorBudgetPerCycle = 3
	// DefaultRetryPerStep bounds executor re-runs after a failed gate
	// before the session fails.
	DefaultRetryPerStep = 2
	// maxScoreRetries is how many times a review is re-asked for its score.
	// The reviewer sees its own prior output, so retrying with a reminder is
	// a prompt problem, not a timing one.
	maxScoreRetries = 3
)

// Config tunes the coordinator. Zero values take defaults.
type Config struct {
	MaxCycles              int
	QualityGateThreshold   float64
	ExecutorBudgetPerCycle int
	RetryPerStep           int

	// PlannerModel and ExecutorModel select a model per role. A task's own
	// BackendModelHint takes precedence over both.
	PlannerModel  string
	ExecutorModel string
}

func (c Config) withDefaults() Config {
	if c.MaxCycles <= 0 {
		c.MaxCycles = DefaultMaxCycles
	}
	if c.QualityGateThreshold <= 0 {
		c.QualityGateThreshold = DefaultQualityGateThreshold
	}
	if c.ExecutorBudgetPerCycle <= 0 {
		c.ExecutorBudgetPerCycle = DefaultExecutorBudgetPerCycle
	}
	if c.RetryPerStep <= 0 {
		c.RetryPerStep = DefaultRetryPerStep
	}
	return c
}

// Coordinator drives dual-agent sessions.
type Coordinator struct {
	loop   *autopilot.Loop
	cfg    Config
	logger *slog.Logger
}

// New wraps a loop with dual-agent choreography.
func New(loop *autopilot.Loop, cfg Config) *Coordinator {
	return &Coordinator{
		loop:   loop,
		cfg:    cfg.withDefaults(),
		logger: slog.Default().With("component", "coordinator"),
	}
}

// modelHint resolves the model for a role's segment.
func (c *Coordinator) modelHint(role models.Role, task models.Task) string {
	if task.BackendModelHint != "" {
		return task.BackendModelHint
	}
	if role == models.RolePlanner {
		return c.cfg.PlannerModel
	}
	return c.cfg.ExecutorModel
}

// cycleState carries continuity across cycles: each role resumes its own
// backend conversation, the latest review seeds the next plan, and a failed
// gate's critique seeds the executor retry.
type cycleState struct {
	plannerToken  string
	executorToken string
	priorReview   string
	handoffs      int
	lastQuality   float64
	gatePassed    bool
	lastWork      string
}

// reviewOutcome is one graded review.
type reviewOutcome struct {
	quality          float64
	critique         string
	declaresComplete bool
}

// Run drives task in DUAL mode. The session's iteration budget is shared by
// both roles; the cycle budget bounds how many times the planner may define
// further work before the session is wrapped up.
func (c *Coordinator) Run(ctx context.Context, task models.Task) *models.Result {
	w, failure := c.loop.Begin(ctx, task)
	if failure != nil {
		return failure
	}
	return c.Resume(ctx, w, task)
}

// Resume runs the cycle choreography over an established session.
func (c *Coordinator) Resume(ctx context.Context, w *journal.Writer, task models.Task) *models.Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if task.OverallTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.OverallTimeout)
		defer cancel()
	}

	st := &cycleState{}
	for cycle := 1; cycle <= c.cfg.MaxCycles; cycle++ {
		res, done := c.runCycle(runCtx, ctx, w, task, cycle, st)
		if done {
			res.HandoffCount = st.handoffs
			return res
		}
	}

	// Cycle budget spent. The last gate decides whether the accumulated work
	// counts as done.
	res := &models.Result{
		SessionID:    w.SessionID(),
		Iterations:   w.IterationCount(),
		QualityScore: st.lastQuality,
		HandoffCount: st.handoffs,
		FinalText:    st.lastWork,
	}
	if st.gatePassed {
		res.Status = models.StatusCompleted
		res.Success = true
		res.Message = fmt.Sprintf("max cycles (%d) reached with quality gate passed", c.cfg.MaxCycles)
	} else {
		res.Status = models.StatusFailed
		res.Message = fmt.Sprintf("max cycles (%d) reached without passing the quality gate", c.cfg.MaxCycles)
	}
	return c.loop.Complete(w, res)
}

// runCycle executes one PLAN, then EXECUTE/REVIEW attempts until the gate
// passes or the per-step retry budget is spent. done=true means the returned
// result is terminal.
func (c *Coordinator) runCycle(runCtx, parentCtx context.Context, w *journal.Writer, task models.Task, cycle int, st *cycleState) (*models.Result, bool) {
	if task.MaxIterations-w.IterationCount() <= 0 {
		return c.budgetExhausted(w, st), true
	}

	// PLAN: one planner call producing the cycle's step and acceptance
	// criteria, informed by the previous cycle's review.
	planSeg := c.loop.RunSegment(runCtx, w, task, autopilot.Segment{
		Role:        models.RolePlanner,
		Prompt:      plannerPrompt(task.Prompt, st.priorReview),
		Budget:      1,
		ModelHint:   c.modelHint(models.RolePlanner, task),
		ResumeToken: st.plannerToken,
	})
	if res, done := c.checkSegment(runCtx, parentCtx, w, planSeg, st); done {
		return res, true
	}
	st.plannerToken = planSeg.ResumeToken
	plan := planSeg.LastText

	critique := ""
	for attempt := 0; ; attempt++ {
		c.handoff(w, models.HandoffRecord{
			From:              models.RolePlanner,
			To:                models.RoleExecutor,
			Cycle:             cycle,
			Rationale:         planHandoffRationale(attempt),
			QualityGatePassed: st.gatePassed,
			QualityScore:      st.lastQuality,
		}, st)

		// EXECUTE: bounded executor iterations on the current step.
		budget := c.cfg.ExecutorBudgetPerCycle
		if left := task.MaxIterations - w.IterationCount(); left < budget {
			budget = left
		}
		if budget <= 0 {
			return c.budgetExhausted(w, st), true
		}
		execSeg := c.loop.RunSegment(runCtx, w, task, autopilot.Segment{
			Role:        models.RoleExecutor,
			Prompt:      executorPrompt(task.Prompt, plan, critique),
			Budget:      budget,
			ModelHint:   c.modelHint(models.RoleExecutor, task),
			ResumeToken: st.executorToken,
		})
		if res, done := c.checkSegment(runCtx, parentCtx, w, execSeg, st); done {
			return res, true
		}
		st.executorToken = execSeg.ResumeToken
		st.lastWork = execSeg.LastText
		c.handoff(w, models.HandoffRecord{
			From:      models.RoleExecutor,
			To:        models.RolePlanner,
			Cycle:     cycle,
			Rationale: "work submitted for review",
		}, st)

		// REVIEW: the planner grades the executor's report.
		review, res, done := c.review(runCtx, parentCtx, w, task, execSeg.LastText, st)
		if done {
			return res, true
		}
		st.lastQuality = review.quality
		st.gatePassed = review.quality >= c.cfg.QualityGateThreshold

		if st.gatePassed {
			if review.declaresComplete {
				c.logger.Info("Planner declared completion",
					"session_id", w.SessionID(), "cycle", cycle, "quality", review.quality)
				return c.loop.Complete(w, &models.Result{
					SessionID:    w.SessionID(),
					Status:       models.StatusCompleted,
					Success:      true,
					Iterations:   w.IterationCount(),
					QualityScore: review.quality,
					FinalText:    execSeg.LastText,
					Message:      fmt.Sprintf("quality gate passed and completion declared in cycle %d", cycle),
				}), true
			}
			// Accepted, but the planner defined further work.
			st.priorReview = review.critique
			return nil, false
		}

		c.logger.Info("Quality gate rejected step",
			"session_id", w.SessionID(), "cycle", cycle,
			"attempt", attempt, "quality", review.quality)
		if attempt >= c.cfg.RetryPerStep {
			return c.loop.Complete(w, &models.Result{
				SessionID:    w.SessionID(),
				Status:       models.StatusFailed,
				Iterations:   w.IterationCount(),
				QualityScore: review.quality,
				FinalText:    execSeg.LastText,
				Message:      fmt.Sprintf("quality gate failed after %d retries", c.cfg.RetryPerStep),
			}), true
		}
		critique = review.critique
	}
}

func planHandoffRationale(attempt int) string {
	if attempt == 0 {
		return "plan ready for execution"
	}
	return "gate failed; critique issued for retry"
}

// review runs the review call and parses its score, re-asking with a schema
// reminder when the score is missing. An unparseable review after retries
// falls back to the analyzer's quality estimate rather than failing the
// session.
func (c *Coordinator) review(runCtx, parentCtx context.Context, w *journal.Writer, task models.Task, workSummary string, st *cycleState) (reviewOutcome, *models.Result, bool) {
	prompt := reviewPrompt(task.Prompt, workSummary)
	for attempt := 0; ; attempt++ {
		if task.MaxIterations-w.IterationCount() <= 0 {
			return reviewOutcome{}, c.budgetExhausted(w, st), true
		}
		seg := c.loop.RunSegment(runCtx, w, task, autopilot.Segment{
			Role:        models.RolePlanner,
			Prompt:      prompt,
			Budget:      1,
			ModelHint:   c.modelHint(models.RolePlanner, task),
			ResumeToken: st.plannerToken,
		})
		if res, done := c.checkSegment(runCtx, parentCtx, w, seg, st); done {
			return reviewOutcome{}, res, true
		}
		st.plannerToken = seg.ResumeToken
		declares := seg.Verdict.Pattern(models.PatternExplicitCompletion) != nil

		score, critique, err := parseReviewScore(seg.LastText)
		if err == nil {
			return reviewOutcome{
				quality:          float64(score) / 100,
				critique:         critique,
				declaresComplete: declares,
			}, nil, false
		}
		if attempt >= maxScoreRetries {
			c.logger.Warn("Review score extraction failed, using analyzer quality",
				"session_id", w.SessionID(), "error", err)
			return reviewOutcome{
				quality:          seg.Verdict.QualityScore,
				critique:         seg.LastText,
				declaresComplete: declares,
			}, nil, false
		}
		prompt = reviewReminderPrompt()
	}
}

// checkSegment turns fatal segment outcomes into terminal results. Completed
// and exhausted segments are normal in dual mode: the review decides.
func (c *Coordinator) checkSegment(runCtx, parentCtx context.Context, w *journal.Writer, seg *autopilot.SegmentResult, st *cycleState) (*models.Result, bool) {
	switch seg.Outcome {
	case autopilot.SegmentFailed:
		res := &models.Result{
			SessionID:     w.SessionID(),
			Status:        models.StatusFailed,
			Iterations:    w.IterationCount(),
			QualityScore:  st.lastQuality,
			ErrorKind:     string(seg.ErrKind),
			RecoveryHints: seg.ErrKind.RecoveryHints(),
		}
		if seg.Err != nil {
			res.Message = seg.Err.Error()
		}
		return c.loop.Complete(w, res), true

	case autopilot.SegmentAborted:
		res := &models.Result{
			SessionID:    w.SessionID(),
			Status:       models.StatusAborted,
			Iterations:   w.IterationCount(),
			QualityScore: st.lastQuality,
		}
		if runCtx.Err() == context.DeadlineExceeded && parentCtx.Err() == nil {
			res.Message = "overall timeout exceeded"
			res.ErrorKind = string(backend.KindTimeout)
		} else {
			res.Message = "stopped by request"
		}
		return c.loop.Complete(w, res), true
	}
	return nil, false
}

func (c *Coordinator) budgetExhausted(w *journal.Writer, st *cycleState) *models.Result {
	return c.loop.Complete(w, &models.Result{
		SessionID:    w.SessionID(),
		Status:       models.StatusFailed,
		Iterations:   w.IterationCount(),
		QualityScore: st.lastQuality,
		HandoffCount: st.handoffs,
		FinalText:    st.lastWork,
		Message:      "iteration budget exhausted before completion",
	})
}

// handoff records one role transition: a handoff event on the bus, counted on
// the result.
func (c *Coordinator) handoff(w *journal.Writer, record models.HandoffRecord, st *cycleState) {
	st.handoffs++
	c.loop.Bus().Publish(hookbus.Event{
		Type:      hookbus.EventHandoff,
		SessionID: w.SessionID(),
		Payload:   hookbus.HandoffPayload{Record: record},
	})
}
