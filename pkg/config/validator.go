package config

import (
	"errors"
	"fmt"
)

// validator checks a loaded Config for internal consistency. Errors are
// accumulated so a broken file reports everything at once.
type validator struct {
	cfg  *Config
	errs []error
}

func newValidator(cfg *Config) *validator {
	return &validator{cfg: cfg}
}

func (v *validator) validateAll() error {
	v.validateBackend()
	v.validateLoop()
	v.validateDual()
	v.validateJournal()
	v.validateServer()
	v.validateObserver()
	return errors.Join(v.errs...)
}

func (v *validator) addError(section, field string, err error) {
	v.errs = append(v.errs, NewValidationError(section, field, err))
}

func (v *validator) validateBackend() {
	b := v.cfg.Backend
	switch b.Driver {
	case DriverCLI:
		if b.Command == "" {
			v.addError("backend", "command", ErrMissingRequiredField)
		}
	case DriverGRPC:
		if b.GRPCTarget == "" {
			v.addError("backend", "grpc_target", ErrMissingRequiredField)
		}
	default:
		v.addError("backend", "driver",
			fmt.Errorf("%w: %q (must be cli or grpc)", ErrInvalidValue, b.Driver))
	}
	if b.ProbeTTL < 0 {
		v.addError("backend", "probe_ttl", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
}

func (v *validator) validateLoop() {
	l := v.cfg.Loop
	if l.MaxConsecutiveErrors < 1 {
		v.addError("loop", "max_consecutive_errors", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.ContextTailChars < 0 {
		v.addError("loop", "context_tail_chars", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if l.LogicBackoff < 0 || l.NetworkBackoff < 0 || l.QuotaBackoff < 0 {
		v.addError("loop", "backoff", fmt.Errorf("%w: backoffs must not be negative", ErrInvalidValue))
	}
}

func (v *validator) validateDual() {
	d := v.cfg.Dual
	if d.MaxCycles < 1 {
		v.addError("dual", "max_cycles", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if d.QualityGateThreshold <= 0 || d.QualityGateThreshold > 1 {
		v.addError("dual", "quality_gate_threshold",
			fmt.Errorf("%w: must be in (0, 1]", ErrInvalidValue))
	}
	if d.ExecutorBudgetPerCycle < 1 {
		v.addError("dual", "executor_budget_per_cycle", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if d.RetryPerStep < 0 {
		v.addError("dual", "retry_per_step", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
}

func (v *validator) validateJournal() {
	if v.cfg.Journal.Dir == "" {
		v.addError("journal", "dir", ErrMissingRequiredField)
	}
}

func (v *validator) validateServer() {
	if v.cfg.Server.Addr == "" {
		v.addError("server", "addr", ErrMissingRequiredField)
	}
}

func (v *validator) validateObserver() {
	if err := v.cfg.Observer.Validate(); err != nil {
		v.addError("observer", "", err)
	}
}
