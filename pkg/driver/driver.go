// Package driver is the invocation entry point: it dispatches tasks to the
// single-agent loop or the dual-agent coordinator by mode, and tracks running
// sessions so they can be cancelled by id.
package driver

import (
	"context"
	"sync"

	"github.com/taskpilot-ai/taskpilot/pkg/autopilot"
	"github.com/taskpilot-ai/taskpilot/pkg/coordinator"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// Driver routes tasks by coordination mode.
type Driver struct {
	loop  *autopilot.Loop
	coord *coordinator.Coordinator

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New builds a driver over the two mode implementations.
func New(loop *autopilot.Loop, coord *coordinator.Coordinator) *Driver {
	return &Driver{
		loop:    loop,
		coord:   coord,
		running: make(map[string]context.CancelFunc),
	}
}

// Run drives a task to its terminal state, blocking until done. An empty
// mode defaults to SINGLE.
func (d *Driver) Run(ctx context.Context, task models.Task) *models.Result {
	if task.Mode == "" {
		task.Mode = models.ModeSingle
	}
	if task.Mode == models.ModeDual {
		return d.coord.Run(ctx, task)
	}
	return d.loop.Run(ctx, task)
}

// Handle tracks one launched session. Result is valid after Done is closed.
type Handle struct {
	SessionID string
	done      chan struct{}
	result    *models.Result
}

// Done is closed when the session reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the terminal result, or nil while the session is running.
func (h *Handle) Result() *models.Result {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// Launch starts a task asynchronously. The session id is known before Launch
// returns; the session itself runs until completion or Cancel. A validation
// or readiness failure surfaces as an already-done handle.
func (d *Driver) Launch(parent context.Context, task models.Task) *Handle {
	if task.Mode == "" {
		task.Mode = models.ModeSingle
	}
	h := &Handle{done: make(chan struct{})}

	ctx, cancel := context.WithCancel(parent)
	w, failure := d.loop.Begin(ctx, task)
	if failure != nil {
		cancel()
		h.SessionID = failure.SessionID
		h.result = failure
		close(h.done)
		return h
	}
	h.SessionID = w.SessionID()

	d.mu.Lock()
	d.running[h.SessionID] = cancel
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.running, h.SessionID)
			d.mu.Unlock()
			cancel()
			close(h.done)
		}()
		h.result = d.resume(ctx, w, task)
	}()
	return h
}

func (d *Driver) resume(ctx context.Context, w *journal.Writer, task models.Task) *models.Result {
	if task.Mode == models.ModeDual {
		return d.coord.Resume(ctx, w, task)
	}
	return d.loop.Resume(ctx, w, task)
}

// Cancel requests a cooperative stop of a running session. Returns false if
// no session with that id is running.
func (d *Driver) Cancel(sessionID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[sessionID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// RunningSessions lists the ids of sessions currently in flight.
func (d *Driver) RunningSessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	return ids
}
