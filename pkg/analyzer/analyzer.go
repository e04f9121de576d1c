// Package analyzer classifies backend responses: is the task complete, should
// the loop continue, and how good was the output. The analyzer is pure and
// deterministic given its inputs — no I/O, no clock reads beyond the duration
// the caller measured.
package analyzer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// Options tune the analyzer's thresholds. Zero values are replaced by the
// defaults below.
type Options struct {
	// CompletionThreshold: below this confidence the loop continues.
	CompletionThreshold float64
	// StrongCompletionThreshold: above this, explicit completion stops the loop.
	StrongCompletionThreshold float64
	// SubstantiveLength is the floor above which patternless text is treated
	// as substantive (confidence centered at 0.5).
	SubstantiveLength int
	// ShortOutputLength is the floor below which output is penalised as thin.
	ShortOutputLength int
	// SlowCallThreshold: calls slower than this take a small quality penalty.
	SlowCallThreshold time.Duration
}

const (
	DefaultCompletionThreshold       = 0.70
	DefaultStrongCompletionThreshold = 0.85
	defaultSubstantiveLength         = 200
	defaultShortOutputLength         = 12
	defaultSlowCallThreshold         = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.CompletionThreshold == 0 {
		o.CompletionThreshold = DefaultCompletionThreshold
	}
	if o.StrongCompletionThreshold == 0 {
		o.StrongCompletionThreshold = DefaultStrongCompletionThreshold
	}
	if o.SubstantiveLength == 0 {
		o.SubstantiveLength = defaultSubstantiveLength
	}
	if o.ShortOutputLength == 0 {
		o.ShortOutputLength = defaultShortOutputLength
	}
	if o.SlowCallThreshold == 0 {
		o.SlowCallThreshold = defaultSlowCallThreshold
	}
	return o
}

// Input is everything the analyzer needs about one iteration.
type Input struct {
	Text          string
	ExitStatus    int
	Duration      time.Duration
	IterationN    int
	MaxIterations int
}

// Analyzer classifies responses. Safe for concurrent use.
type Analyzer struct {
	opts Options
}

// New creates an analyzer with the given options (zero fields defaulted).
func New(opts Options) *Analyzer {
	return &Analyzer{opts: opts.withDefaults()}
}

// SafeDefaultVerdict is returned when analysis itself fails: keep iterating,
// low confidence.
func SafeDefaultVerdict() models.CompletionVerdict {
	return models.CompletionVerdict{
		ContinuationNeeded: true,
		Confidence:         0.3,
		QualityScore:       0.5,
		Reason:             "analyzer internal error; defaulting to continuation",
	}
}

// Analyze produces a verdict for one response. A panic inside classification
// degrades to the safe default verdict instead of aborting the loop.
func (a *Analyzer) Analyze(in Input) (verdict models.CompletionVerdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Analyzer panicked, using safe default verdict", "panic", r)
			verdict = SafeDefaultVerdict()
		}
	}()
	return a.analyze(in)
}

func (a *Analyzer) analyze(in Input) models.CompletionVerdict {
	text := strings.TrimSpace(in.Text)
	matches := detect(text)

	// Non-zero exit status counts as error evidence even without error text.
	if in.ExitStatus != 0 && findMatch(matches, models.PatternErrorNeedsFixing) == nil {
		matches = append(matches, models.PatternMatch{
			Family:     models.PatternErrorNeedsFixing,
			MatchCount: 1,
			Evidence:   []string{fmt.Sprintf("exit status %d", in.ExitStatus)},
		})
	}

	explicit := findMatch(matches, models.PatternExplicitCompletion)
	pending := findMatch(matches, models.PatternTaskPending)
	errorish := findMatch(matches, models.PatternErrorNeedsFixing)
	clarifying := findMatch(matches, models.PatternClarificationNeeded)

	confidence := a.confidence(text, explicit, pending, errorish, clarifying)
	quality := a.quality(in, text, explicit, errorish)

	v := models.CompletionVerdict{
		Confidence:       confidence,
		QualityScore:     quality,
		DetectedPatterns: matches,
	}

	switch {
	case explicit != nil && errorish == nil && confidence > a.opts.StrongCompletionThreshold:
		v.IsComplete = true
		v.ContinuationNeeded = false
		v.Reason = "explicit completion declared with strong confidence"

	case errorish != nil:
		v.ContinuationNeeded = true
		v.Reason = "error vocabulary or non-zero exit status present"
		v.SuggestedNextAction = "fix the reported error and re-run"

	case strongMatch(pending):
		v.ContinuationNeeded = true
		v.Reason = "next-step language indicates pending work"
		v.SuggestedNextAction = "perform the stated next step"

	case strongMatch(clarifying):
		v.ContinuationNeeded = true
		v.Reason = "backend asked for clarification"
		v.SuggestedNextAction = "restate the task with the missing detail"

	case confidence < a.opts.CompletionThreshold:
		v.ContinuationNeeded = true
		v.Reason = fmt.Sprintf("confidence %.2f below completion threshold %.2f",
			confidence, a.opts.CompletionThreshold)

	default:
		// Ambiguous: no stop signal, no continue signal. Prefer continuation,
		// except on the penultimate iteration where stopping preserves one
		// iteration for explicit wrap-up.
		if in.MaxIterations > 1 && in.IterationN == in.MaxIterations-1 {
			v.IsComplete = true
			v.Reason = "ambiguous verdict on penultimate iteration; stopping to preserve wrap-up budget"
		} else {
			v.ContinuationNeeded = true
			v.Reason = "ambiguous verdict; preferring continuation"
		}
	}

	return v
}

// confidence combines the pattern families linearly: explicit completion
// positive, the three continuation families negative, centered at 0.5 when no
// pattern fires on substantive text and clipped to [0,1].
func (a *Analyzer) confidence(text string, explicit, pending, errorish, clarifying *models.PatternMatch) float64 {
	if explicit == nil && pending == nil && errorish == nil && clarifying == nil {
		if len(text) > a.opts.SubstantiveLength {
			return 0.5
		}
		// Thin, patternless output carries almost no completion signal.
		return 0.2
	}
	c := 0.5
	// The literal TASK COMPLETED sentinel is the cue our prompts ask the
	// model to emit; it counts as full-strength completion evidence on its
	// own. Softer completion phrasing scales with match count.
	if explicit != nil && completionSentinel.MatchString(text) {
		c += familyWeight(models.PatternExplicitCompletion)
	} else {
		c += familyWeight(models.PatternExplicitCompletion) * saturate(explicit)
	}
	c -= familyWeight(models.PatternTaskPending) * saturate(pending)
	c -= familyWeight(models.PatternErrorNeedsFixing) * saturate(errorish)
	c -= familyWeight(models.PatternClarificationNeeded) * saturate(clarifying)
	return clip01(c)
}

// quality starts at 0.7 and moves with output substance, error presence,
// completion evidence, and call latency.
func (a *Analyzer) quality(in Input, text string, explicit, errorish *models.PatternMatch) float64 {
	q := 0.7
	if errorish != nil {
		q -= 0.25
	}
	if len(text) < a.opts.ShortOutputLength {
		q -= 0.2
	} else if len(text) > a.opts.SubstantiveLength {
		q += 0.1
	}
	if explicit != nil {
		q += 0.15
	}
	if in.Duration > a.opts.SlowCallThreshold {
		q -= 0.05
	}
	return clip01(q)
}

// strongMatch reports whether a continuation family fired decisively.
func strongMatch(m *models.PatternMatch) bool {
	return m != nil && m.MatchCount >= 2
}

// saturate maps a match count onto [0,1], topping out at three hits.
func saturate(m *models.PatternMatch) float64 {
	if m == nil {
		return 0
	}
	n := m.MatchCount
	if n > 3 {
		n = 3
	}
	return float64(n) / 3
}

func findMatch(matches []models.PatternMatch, f models.PatternFamily) *models.PatternMatch {
	for i := range matches {
		if matches[i].Family == f {
			return &matches[i]
		}
	}
	return nil
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
