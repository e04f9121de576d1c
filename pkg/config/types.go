package config

import "time"

// BackendDriver selects which LLM backend implementation to wire.
type BackendDriver string

const (
	// DriverCLI shells out to a coding-agent CLI per iteration.
	DriverCLI BackendDriver = "cli"
	// DriverGRPC talks to a sidecar generation service over gRPC.
	DriverGRPC BackendDriver = "grpc"
)

// BackendConfig selects and tunes the LLM backend.
type BackendConfig struct {
	// Driver is "cli" or "grpc".
	Driver BackendDriver `yaml:"driver"`

	// Command is the CLI binary for the cli driver. Looked up on PATH when
	// not absolute.
	Command string `yaml:"command"`

	// GRPCTarget is the dial target for the grpc driver, e.g. "localhost:9090".
	GRPCTarget string `yaml:"grpc_target"`

	// Model is the default model hint passed on every call; a task's own
	// hint overrides it.
	Model string `yaml:"model"`

	// ProbeTTL is how long a readiness probe result is cached.
	ProbeTTL time.Duration `yaml:"probe_ttl"`
}

// LoopConfig tunes the single-agent autopilot loop.
type LoopConfig struct {
	// MaxConsecutiveErrors bounds uninterrupted backend failures before the
	// session fails.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	// ContextTailChars bounds how much of the previous response is carried
	// into the next prompt.
	ContextTailChars int `yaml:"context_tail_chars"`

	// PublishVerdicts enables analyzer_verdict events on the hook bus.
	PublishVerdicts bool `yaml:"publish_verdicts"`

	// Per-kind backoff bases between retried failures.
	LogicBackoff   time.Duration `yaml:"logic_backoff"`
	NetworkBackoff time.Duration `yaml:"network_backoff"`
	QuotaBackoff   time.Duration `yaml:"quota_backoff"`
}

// DualConfig tunes the planner/executor coordinator.
type DualConfig struct {
	// MaxCycles bounds plan→execute→review rounds per session.
	MaxCycles int `yaml:"max_cycles"`

	// QualityGateThreshold is the minimum review score (0..1) to accept a
	// cycle's work.
	QualityGateThreshold float64 `yaml:"quality_gate_threshold"`

	// ExecutorBudgetPerCycle bounds executor iterations within one cycle.
	ExecutorBudgetPerCycle int `yaml:"executor_budget_per_cycle"`

	// RetryPerStep bounds re-executions of a step that failed the gate.
	RetryPerStep int `yaml:"retry_per_step"`

	// PlannerModel and ExecutorModel override the backend's default model
	// per role.
	PlannerModel  string `yaml:"planner_model"`
	ExecutorModel string `yaml:"executor_model"`
}

// JournalConfig locates the session journal.
type JournalConfig struct {
	// Dir is the sessions directory; created on startup if absent.
	Dir string `yaml:"dir"`
}

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
}

// DefaultBackendConfig returns the built-in backend defaults.
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		Driver:   DriverCLI,
		Command:  "pilot",
		ProbeTTL: 60 * time.Second,
	}
}

// DefaultLoopConfig returns the built-in loop defaults.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxConsecutiveErrors: 3,
		ContextTailChars:     4000,
		LogicBackoff:         1 * time.Second,
		NetworkBackoff:       5 * time.Second,
		QuotaBackoff:         30 * time.Second,
	}
}

// DefaultDualConfig returns the built-in coordinator defaults.
func DefaultDualConfig() *DualConfig {
	return &DualConfig{
		MaxCycles:              3,
		QualityGateThreshold:   0.8,
		ExecutorBudgetPerCycle: 3,
		RetryPerStep:           2,
	}
}

// DefaultJournalConfig returns the built-in journal defaults.
func DefaultJournalConfig() *JournalConfig {
	return &JournalConfig{Dir: "sessions"}
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{Addr: ":8080"}
}
