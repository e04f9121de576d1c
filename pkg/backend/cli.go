package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// CLIBackend drives a code-generation CLI as a subprocess. One invocation per
// Execute: the prompt goes in as an argument, the result comes back as a JSON
// object on stdout. Session continuity uses the CLI's own resume tokens.
type CLIBackend struct {
	// Command is the binary name or path, e.g. "claude".
	Command string
	// BaseArgs are prepended to every invocation (print mode, JSON output).
	BaseArgs []string
	// Model is the default model when a call carries no hint of its own.
	Model string
}

// NewCLIBackend creates a subprocess driver for the given binary.
func NewCLIBackend(command string) *CLIBackend {
	return &CLIBackend{
		Command:  command,
		BaseArgs: []string{"--print", "--output-format", "json"},
	}
}

// cliResult is the JSON envelope the CLI prints in JSON output mode.
// Parsing is best-effort: unknown shapes degrade to raw-text responses.
type cliResult struct {
	Result       string   `json:"result"`
	IsError      bool     `json:"is_error"`
	SessionID    string   `json:"session_id"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	FilesTouched []string `json:"files_touched"`
	CommandsRun  []string `json:"commands_run"`
	ToolsUsed    []string `json:"tools_used"`
}

// Execute runs one CLI invocation and parses its output into a Response.
func (b *CLIBackend) Execute(ctx context.Context, prompt string, opts Options) (*models.Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := append([]string(nil), b.BaseArgs...)
	if model := b.resolveModel(opts); model != "" {
		args = append(args, "--model", model)
	}
	if opts.ResumeSessionToken != "" {
		args = append(args, "--resume", opts.ResumeSessionToken)
	}
	if len(opts.AllowedToolset) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedToolset, ","))
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, b.Command, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, b.classifyRunError(ctx, err, stderr.String())
	}

	resp := parseCLIOutput(stdout.Bytes())
	if resp.HasError {
		// The CLI completed but reported an error envelope. Classify from
		// the result text so the loop can pick the right backoff.
		return nil, NewError(classifyText(resp.Text), errors.New(resp.Text))
	}
	return resp, nil
}

func (b *CLIBackend) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.Model
}

// ProbeReadiness checks that the binary resolves and that an auth-status
// invocation succeeds. Degraded (but proceedable) when the auth check cannot
// be interpreted.
func (b *CLIBackend) ProbeReadiness(ctx context.Context) (*ReadinessStatus, error) {
	status := &ReadinessStatus{}

	if _, err := exec.LookPath(b.Command); err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("backend binary %q not found on PATH", b.Command))
		return status, nil
	}
	status.Installed = true

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, b.Command, "--version").CombinedOutput()
	switch {
	case err == nil:
		status.AuthReady = true
		status.CanProceed = true
	case probeCtx.Err() != nil:
		status.Issues = append(status.Issues, "backend version probe timed out")
		status.Degraded = true
		status.CanProceed = true
	default:
		text := strings.ToLower(string(out))
		if strings.Contains(text, "auth") || strings.Contains(text, "login") {
			status.Issues = append(status.Issues, "backend reports authentication required")
			return status, nil
		}
		status.Issues = append(status.Issues, fmt.Sprintf("backend version probe failed: %v", err))
		status.Degraded = true
		status.CanProceed = true
	}
	return status, nil
}

// classifyRunError maps a subprocess failure to the error taxonomy.
func (b *CLIBackend) classifyRunError(ctx context.Context, err error, stderr string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return NewError(KindTimeout, fmt.Errorf("backend call exceeded per-call timeout"))
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return NewError(KindNotInstalled, fmt.Errorf("backend binary %q not found", b.Command))
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	return NewError(classifyText(msg), errors.New(msg))
}

// classifyText maps backend error text to an error kind. Unmatched text is
// KindInternal with the raw text preserved by the caller.
func classifyText(text string) ErrorKind {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "unauthorized"), strings.Contains(t, "not logged in"),
		strings.Contains(t, "authentication"), strings.Contains(t, "please log in"):
		return KindAuthRequired
	case strings.Contains(t, "rate limit"), strings.Contains(t, "quota"),
		strings.Contains(t, "usage limit"):
		return KindQuotaExhausted
	case strings.Contains(t, "timeout"), strings.Contains(t, "timed out"),
		strings.Contains(t, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(t, "connection refused"), strings.Contains(t, "network"),
		strings.Contains(t, "dial tcp"), strings.Contains(t, "no such host"),
		strings.Contains(t, "econnreset"):
		return KindNetwork
	case strings.Contains(t, "broken pipe"), strings.Contains(t, "eof"):
		return KindTransport
	default:
		return KindInternal
	}
}

// parseCLIOutput decodes the CLI's JSON envelope, falling back to treating
// the whole output as plain response text when it is not JSON.
func parseCLIOutput(out []byte) *models.Response {
	var res cliResult
	if err := json.Unmarshal(bytes.TrimSpace(out), &res); err != nil {
		slog.Debug("Backend output is not JSON, using raw text", "bytes", len(out))
		return &models.Response{
			Text:         strings.TrimSpace(string(out)),
			FilesTouched: []string{},
			CommandsRun:  []string{},
			ToolsInvoked: []string{},
		}
	}
	resp := &models.Response{
		Text:                res.Result,
		HasError:            res.IsError,
		FilesTouched:        res.FilesTouched,
		CommandsRun:         res.CommandsRun,
		ToolsInvoked:        res.ToolsUsed,
		CostEstimate:        res.TotalCostUSD,
		BackendSessionToken: res.SessionID,
	}
	if res.IsError {
		resp.ExitStatus = 1
	}
	if resp.FilesTouched == nil {
		resp.FilesTouched = []string{}
	}
	if resp.CommandsRun == nil {
		resp.CommandsRun = []string{}
	}
	if resp.ToolsInvoked == nil {
		resp.ToolsInvoked = []string{}
	}
	return resp
}
