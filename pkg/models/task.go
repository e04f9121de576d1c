package models

import (
	"fmt"
	"time"
)

// Mode selects the coordination strategy for a task.
type Mode string

const (
	// ModeSingle runs one agent role for the whole session.
	ModeSingle Mode = "SINGLE"
	// ModeDual alternates planner and executor roles with quality gates.
	ModeDual Mode = "DUAL"
)

// MaxIterationsCeiling is the hard upper bound on a task's iteration budget.
const MaxIterationsCeiling = 100

// Task is the immutable description of work handed to the driver. It carries
// no session state; a Session is created per invocation.
type Task struct {
	Prompt           string        `json:"prompt"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
	MaxIterations    int           `json:"maxIterations"`
	PerCallTimeout   time.Duration `json:"perCallTimeout,omitempty"`
	OverallTimeout   time.Duration `json:"overallTimeout,omitempty"`
	BackendModelHint string        `json:"backendModelHint,omitempty"`
	AllowedToolset   []string      `json:"allowedToolset,omitempty"`
	ContinueOnError  bool          `json:"continueOnError"`
	Mode             Mode          `json:"mode"`
}

// Validate rejects tasks the loop cannot run. Called once at session start;
// a validation failure produces no session record.
func (t *Task) Validate() error {
	if t.Prompt == "" {
		return fmt.Errorf("task: prompt is required")
	}
	if t.MaxIterations < 1 {
		return fmt.Errorf("task: maxIterations must be at least 1")
	}
	if t.MaxIterations > MaxIterationsCeiling {
		return fmt.Errorf("task: maxIterations exceeds ceiling of %d", MaxIterationsCeiling)
	}
	switch t.Mode {
	case ModeSingle, ModeDual:
	case "":
		return fmt.Errorf("task: mode is required")
	default:
		return fmt.Errorf("task: unknown mode %q", t.Mode)
	}
	if t.PerCallTimeout < 0 || t.OverallTimeout < 0 {
		return fmt.Errorf("task: timeouts must not be negative")
	}
	return nil
}
