package hookbus

import "github.com/taskpilot-ai/taskpilot/pkg/models"

// Typed payload structs for each event type. JSON field names are part of the
// observer wire contract — changing them breaks dashboard consumers.

// SessionCreatedPayload accompanies session_created.
type SessionCreatedPayload struct {
	Mode             models.Mode `json:"mode"`
	WorkingDirectory string      `json:"workingDirectory"`
	InitialPrompt    string      `json:"initialPrompt"`
}

// SessionCompletedPayload accompanies session_completed, whatever the
// terminal status.
type SessionCompletedPayload struct {
	Status     models.SessionStatus `json:"status"`
	Iterations int                  `json:"iterations"`
	DurationMs int64                `json:"durationMs"`
	ErrorKind  string               `json:"errorKind,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

// IterationStartedPayload accompanies iteration_started.
type IterationStartedPayload struct {
	N    int         `json:"n"`
	Role models.Role `json:"role"`
}

// IterationCompletedPayload accompanies iteration_completed. One is published
// per backend call, including calls that failed (non-zero exit status).
type IterationCompletedPayload struct {
	N          int         `json:"n"`
	Role       models.Role `json:"role"`
	ExitStatus int         `json:"exitStatus"`
	DurationMs int64       `json:"durationMs"`
	TextLen    int         `json:"textLen"`
}

// HandoffPayload accompanies handoff (DUAL mode only).
type HandoffPayload struct {
	Record models.HandoffRecord `json:"record"`
}

// VerdictPayload accompanies analyzer_verdict (off by default).
type VerdictPayload struct {
	N       int                      `json:"n"`
	Verdict models.CompletionVerdict `json:"verdict"`
}

// BackendErrorPayload accompanies backend_error and backend_auth_required.
type BackendErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ObserverPayload accompanies observer_admitted and observer_dropped;
// consumed for diagnostics.
type ObserverPayload struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}
