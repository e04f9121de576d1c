package models

// PatternFamily names one of the semantic pattern families the completion
// analyzer scans for. Families are listed in descending weight order.
type PatternFamily string

const (
	PatternExplicitCompletion   PatternFamily = "explicit_completion"
	PatternTaskPending          PatternFamily = "task_pending"
	PatternErrorNeedsFixing     PatternFamily = "error_needs_fixing"
	PatternClarificationNeeded  PatternFamily = "clarification_needed"
	PatternIterativeImprovement PatternFamily = "iterative_improvement"
)

// PatternMatch records one family's contribution to a verdict.
type PatternMatch struct {
	Family     PatternFamily `json:"family"`
	MatchCount int           `json:"matchCount"`
	Evidence   []string      `json:"evidence,omitempty"`
}

// CompletionVerdict is the analyzer's classification of a backend response.
// Deterministic given identical inputs.
type CompletionVerdict struct {
	IsComplete          bool           `json:"isComplete"`
	Confidence          float64        `json:"confidence"`
	ContinuationNeeded  bool           `json:"continuationNeeded"`
	QualityScore        float64        `json:"qualityScore"`
	DetectedPatterns    []PatternMatch `json:"detectedPatterns"`
	Reason              string         `json:"reason,omitempty"`
	SuggestedNextAction string         `json:"suggestedNextAction,omitempty"`
}

// Pattern returns the match for the given family, or nil if it did not fire.
func (v *CompletionVerdict) Pattern(f PatternFamily) *PatternMatch {
	for i := range v.DetectedPatterns {
		if v.DetectedPatterns[i].Family == f {
			return &v.DetectedPatterns[i]
		}
	}
	return nil
}

// HandoffRecord captures one role transition within a dual-agent cycle.
type HandoffRecord struct {
	From              Role    `json:"from"`
	To                Role    `json:"to"`
	Cycle             int     `json:"cycle"`
	Rationale         string  `json:"rationale,omitempty"`
	QualityGatePassed bool    `json:"qualityGatePassed"`
	QualityScore      float64 `json:"qualityScore"`
}
