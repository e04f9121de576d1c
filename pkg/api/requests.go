package api

import (
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// SubmitTaskRequest is the HTTP request body for POST /api/v1/tasks.
// Timeouts are seconds; zero means no bound.
type SubmitTaskRequest struct {
	Prompt            string   `json:"prompt"`
	WorkingDirectory  string   `json:"working_directory"`
	MaxIterations     int      `json:"max_iterations"`
	Mode              string   `json:"mode"`
	BackendModelHint  string   `json:"backend_model_hint,omitempty"`
	PerCallTimeoutSec int      `json:"per_call_timeout_sec,omitempty"`
	OverallTimeoutSec int      `json:"overall_timeout_sec,omitempty"`
	ContinueOnError   bool     `json:"continue_on_error,omitempty"`
	AllowedToolset    []string `json:"allowed_toolset,omitempty"`
}

// Task converts the request into the driver's task model. Validation happens
// downstream in Task.Validate.
func (r *SubmitTaskRequest) Task() models.Task {
	return models.Task{
		Prompt:           r.Prompt,
		WorkingDirectory: r.WorkingDirectory,
		MaxIterations:    r.MaxIterations,
		Mode:             models.Mode(r.Mode),
		BackendModelHint: r.BackendModelHint,
		PerCallTimeout:   time.Duration(r.PerCallTimeoutSec) * time.Second,
		OverallTimeout:   time.Duration(r.OverallTimeoutSec) * time.Second,
		ContinueOnError:  r.ContinueOnError,
		AllowedToolset:   r.AllowedToolset,
	}
}
