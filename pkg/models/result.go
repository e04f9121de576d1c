package models

// Result is the structured outcome returned by the invocation entry point.
// A non-success result carries the error kind plus precomputed recovery hints;
// stack traces are never exposed.
type Result struct {
	SessionID    string        `json:"sessionId"`
	Status       SessionStatus `json:"status"`
	Success      bool          `json:"success"`
	Iterations   int           `json:"iterations"`
	DurationMs   int64         `json:"durationMs"`
	QualityScore float64       `json:"qualityScore,omitempty"`
	HandoffCount int           `json:"handoffCount,omitempty"`
	FinalText    string        `json:"finalText,omitempty"`

	ErrorKind     string   `json:"errorKind,omitempty"`
	Message       string   `json:"message,omitempty"`
	RecoveryHints []string `json:"recoveryHints,omitempty"`
}
