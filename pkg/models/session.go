// Package models defines the core data entities shared across the driver:
// tasks, sessions, iterations, backend responses, analyzer verdicts, and the
// structured results returned to callers. All types are plain structs with
// contract-stable JSON field names — the journal files built from them are
// read by external analysis tooling.
package models

import "time"

// SessionStatus is the lifecycle state of a session.
// Terminal once set to anything other than StatusRunning.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusFailed    SessionStatus = "FAILED"
	StatusAborted   SessionStatus = "ABORTED"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s != StatusRunning
}

// Role tags an iteration with the prompt discipline that produced it.
type Role string

const (
	RoleSingle   Role = "SINGLE"
	RolePlanner  Role = "PLANNER"
	RoleExecutor Role = "EXECUTOR"
)

// Session is one execution of a Task. Exactly one session exists per loop
// invocation; iterations are appended in strict order.
type Session struct {
	SessionID        string        `json:"sessionId"`
	StartedAt        time.Time     `json:"startedAt"`
	EndedAt          *time.Time    `json:"endedAt,omitempty"`
	Status           SessionStatus `json:"status"`
	Mode             Mode          `json:"mode"`
	WorkingDirectory string        `json:"workingDirectory"`
	InitialPrompt    string        `json:"initialPrompt"`
	Iterations       []Iteration   `json:"iterations"`
}

// Iteration is one backend call within a session, created and finalized
// atomically on journal append. Failed calls are journaled too, with a
// non-zero exit status and the error message as response text — the journal
// is the primary audit artefact and omitting failures would hide loop
// behaviour.
type Iteration struct {
	N                   int       `json:"n"`
	Prompt              string    `json:"prompt"`
	Response            Response  `json:"response"`
	DurationMs          int64     `json:"durationMs"`
	Timestamp           time.Time `json:"timestamp"`
	Role                Role      `json:"role"`
	BackendSessionToken string    `json:"backendSessionToken,omitempty"`
}

// Response is the parsed outcome of one backend call. Artifact parsing is
// best-effort; empty artifact slices never fail the loop.
type Response struct {
	Text                string   `json:"text"`
	ExitStatus          int      `json:"exitStatus"`
	HasError            bool     `json:"hasError,omitempty"`
	FilesTouched        []string `json:"filesTouched"`
	CommandsRun         []string `json:"commandsRun"`
	ToolsInvoked        []string `json:"toolsInvoked"`
	CostEstimate        *float64 `json:"costEstimate,omitempty"`
	BackendSessionToken string   `json:"-"`
}
