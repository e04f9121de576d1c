// Package backend defines the port to the external code-generation backend:
// a one-shot Execute plus a readiness probe. The backend itself is opaque —
// tools, file edits, and auth all live behind it. Two drivers are provided:
// a CLI subprocess driver and a gRPC sidecar driver.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// Options carry per-call parameters for Execute.
type Options struct {
	Model              string
	WorkDir            string
	Timeout            time.Duration
	AllowedToolset     []string
	ResumeSessionToken string
}

// ReadinessStatus is the result of probing the backend before a loop starts.
type ReadinessStatus struct {
	Installed  bool     `json:"installed"`
	AuthReady  bool     `json:"authReady"`
	Issues     []string `json:"issues,omitempty"`
	CanProceed bool     `json:"canProceed"`
	Degraded   bool     `json:"degraded"`
}

// Health classifies a ReadinessStatus for the loop's gating decision.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthPartial     Health = "partial"
	HealthUnavailable Health = "unavailable"
)

// Classify maps the status fields to the three-way health classification.
// A partial result allows the loop to run with a warning.
func (s *ReadinessStatus) Classify() Health {
	switch {
	case !s.CanProceed:
		return HealthUnavailable
	case s.Degraded || len(s.Issues) > 0:
		return HealthPartial
	default:
		return HealthHealthy
	}
}

// Backend is the port to the code-generation backend. Execute must be safe to
// call concurrently from different sessions; backend tokens isolate
// per-session continuity. No ordering guarantees hold across parallel calls.
type Backend interface {
	Execute(ctx context.Context, prompt string, opts Options) (*models.Response, error)
	ProbeReadiness(ctx context.Context) (*ReadinessStatus, error)
}

// ErrorKind is the closed taxonomy of backend call failures. Anything the
// driver cannot classify maps to KindInternal with the raw text preserved.
type ErrorKind string

const (
	KindAuthRequired   ErrorKind = "AuthRequired"
	KindNotInstalled   ErrorKind = "BackendNotInstalled"
	KindNetwork        ErrorKind = "Network"
	KindQuotaExhausted ErrorKind = "QuotaExhausted"
	KindTimeout        ErrorKind = "Timeout"
	KindTransport      ErrorKind = "Transport"
	KindInternal       ErrorKind = "BackendInternal"
)

// Error is a classified backend failure. Raw preserves the backend's own
// error text for the journal.
type Error struct {
	Kind ErrorKind
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Raw)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified backend error wrapping cause.
func NewError(kind ErrorKind, cause error) *Error {
	e := &Error{Kind: kind, Err: cause}
	if cause != nil {
		e.Raw = cause.Error()
	}
	return e
}

// KindOf extracts the error kind from err, defaulting to KindInternal for
// unclassified failures and KindTimeout for context deadline expiry.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether a failure of this kind may be retried within the
// loop's consecutive-error budget. Auth and installation failures are
// surfaced immediately.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindTransport, KindQuotaExhausted, KindInternal:
		return true
	default:
		return false
	}
}

// RecoveryHints returns precomputed per-kind guidance for user-visible results.
func (k ErrorKind) RecoveryHints() []string {
	switch k {
	case KindAuthRequired:
		return []string{"authenticate with the backend", "verify the backend's credential store is reachable"}
	case KindNotInstalled:
		return []string{"install the backend CLI and ensure it is on PATH"}
	case KindNetwork, KindTransport:
		return []string{"check network connectivity to the backend", "retry the task"}
	case KindQuotaExhausted:
		return []string{"wait for the quota window to reset or raise the quota"}
	case KindTimeout:
		return []string{"raise per_call_timeout or simplify the task"}
	default:
		return []string{"inspect the session journal for the backend's raw error text"}
	}
}
