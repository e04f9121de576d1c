package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot-ai/taskpilot/pkg/analyzer"
	"github.com/taskpilot-ai/taskpilot/pkg/autopilot"
	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/coordinator"
	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// stubBackend returns the same response on every call, optionally blocking
// until the call context is cancelled.
type stubBackend struct {
	text      string
	block     bool
	readiness backend.ReadinessStatus
}

func (s *stubBackend) Execute(ctx context.Context, _ string, _ backend.Options) (*models.Response, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &models.Response{
		Text:         s.text,
		FilesTouched: []string{},
		CommandsRun:  []string{},
		ToolsInvoked: []string{},
	}, nil
}

func (s *stubBackend) ProbeReadiness(context.Context) (*backend.ReadinessStatus, error) {
	status := s.readiness
	return &status, nil
}

func readyStub(text string) *stubBackend {
	return &stubBackend{
		text:      text,
		readiness: backend.ReadinessStatus{Installed: true, AuthReady: true, CanProceed: true},
	}
}

func newTestDriver(t *testing.T, b backend.Backend) (*Driver, *journal.Journal) {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	loop := autopilot.New(b, backend.NewCachedProbe(b, time.Minute), j, hookbus.New(),
		analyzer.New(analyzer.Options{}), autopilot.Config{})
	return New(loop, coordinator.New(loop, coordinator.Config{})), j
}

func TestRunDefaultsToSingleMode(t *testing.T) {
	d, _ := newTestDriver(t, readyStub("All wired up and verified.\nTASK COMPLETED"))

	res := d.Run(context.Background(), models.Task{Prompt: "p", MaxIterations: 3, Mode: models.ModeSingle})
	require.Equal(t, models.StatusCompleted, res.Status)

	// Empty mode is treated as SINGLE rather than rejected.
	res = d.Run(context.Background(), models.Task{Prompt: "p", MaxIterations: 3})
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Iterations)
}

func TestLaunchExposesSessionIDBeforeCompletion(t *testing.T) {
	d, j := newTestDriver(t, readyStub("All wired up and verified.\nTASK COMPLETED"))

	h := d.Launch(context.Background(), models.Task{Prompt: "p", MaxIterations: 3})
	require.NotEmpty(t, h.SessionID)

	// The session record exists as soon as Launch returns.
	_, err := j.Load(h.SessionID)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	res := h.Result()
	require.NotNil(t, res)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, h.SessionID, res.SessionID)
	assert.Empty(t, d.RunningSessions())
}

func TestLaunchValidationFailureIsDoneImmediately(t *testing.T) {
	d, _ := newTestDriver(t, readyStub("x"))

	h := d.Launch(context.Background(), models.Task{MaxIterations: 3})
	select {
	case <-h.Done():
	default:
		t.Fatal("handle should be done synchronously")
	}
	res := h.Result()
	require.NotNil(t, res)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Empty(t, h.SessionID)
}

func TestLaunchReadinessFailureIsDoneImmediately(t *testing.T) {
	d, _ := newTestDriver(t, &stubBackend{}) // not installed

	h := d.Launch(context.Background(), models.Task{Prompt: "p", MaxIterations: 3})
	select {
	case <-h.Done():
	default:
		t.Fatal("handle should be done synchronously")
	}
	res := h.Result()
	require.NotNil(t, res)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, string(backend.KindNotInstalled), res.ErrorKind)
	// A readiness rejection still creates the session record.
	assert.NotEmpty(t, h.SessionID)
}

func TestCancelStopsRunningSession(t *testing.T) {
	b := readyStub("")
	b.block = true
	d, j := newTestDriver(t, b)

	h := d.Launch(context.Background(), models.Task{Prompt: "p", MaxIterations: 3})
	require.Contains(t, d.RunningSessions(), h.SessionID)

	require.True(t, d.Cancel(h.SessionID))
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled session did not stop")
	}
	res := h.Result()
	require.NotNil(t, res)
	assert.Equal(t, models.StatusAborted, res.Status)

	session, err := j.Load(h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, session.Status)
}

func TestCancelUnknownSession(t *testing.T) {
	d, _ := newTestDriver(t, readyStub("x"))
	assert.False(t, d.Cancel("nope"))
}

func TestResultNilWhileRunning(t *testing.T) {
	b := readyStub("")
	b.block = true
	d, _ := newTestDriver(t, b)

	h := d.Launch(context.Background(), models.Task{Prompt: "p", MaxIterations: 3})
	assert.Nil(t, h.Result())
	d.Cancel(h.SessionID)
	<-h.Done()
}
