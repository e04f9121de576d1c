// Package journal persists sessions as append-only records, one JSON file per
// session in a local directory. The on-disk format is intentionally stable —
// external analysis tooling reads these files. Appends are flushed to disk
// before returning; the journal is the system's source of truth (events are a
// convenience layer on top).
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// ErrJournalClosed is returned by Append after Close has set a terminal status.
var ErrJournalClosed = errors.New("journal: session is closed")

// ErrSessionNotFound is returned by Load for ids with no journal file.
var ErrSessionNotFound = errors.New("session not found")

// IOError wraps a disk failure during journal writes. Fatal for the owning
// loop: the journal may be inconsistent with in-memory state.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("journal %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// excerptLen bounds the first-prompt excerpt in List summaries.
const excerptLen = 120

// Summary is one row of Journal.List.
type Summary struct {
	SessionID          string               `json:"sessionId"`
	StartedAt          time.Time            `json:"startedAt"`
	Status             models.SessionStatus `json:"status"`
	FirstPromptExcerpt string               `json:"firstPromptExcerpt"`
}

// Journal manages the sessions directory. Writers are single-writer per
// session; Load and List may run concurrently with writers.
type Journal struct {
	dir string
}

// Open ensures the sessions directory exists and returns a Journal over it.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the sessions directory path.
func (j *Journal) Dir() string { return j.dir }

// Create establishes a new session record on disk and returns its writer.
// The header (session metadata with an empty iteration list) is durable
// before Create returns.
func (j *Journal) Create(task models.Task) (*Writer, error) {
	now := time.Now()
	session := models.Session{
		SessionID:        uuid.New().String(),
		StartedAt:        now,
		Status:           models.StatusRunning,
		Mode:             task.Mode,
		WorkingDirectory: task.WorkingDirectory,
		InitialPrompt:    task.Prompt,
		Iterations:       []models.Iteration{},
	}
	w := &Writer{
		path:    j.sessionPath(session.SessionID),
		session: session,
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// Load replays a session record read-only.
func (j *Journal) Load(sessionID string) (*models.Session, error) {
	data, err := os.ReadFile(j.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("journal: %w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, &IOError{Op: "load", Err: err}
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &IOError{Op: "decode", Err: err}
	}
	return &session, nil
}

// List returns summaries of all journaled sessions, newest first.
// Unreadable or partially written files are skipped rather than failing the
// whole listing.
func (j *Journal) List() ([]Summary, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, &IOError{Op: "list", Err: err}
	}
	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		session, err := j.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			SessionID:          session.SessionID,
			StartedAt:          session.StartedAt,
			Status:             session.Status,
			FirstPromptExcerpt: excerpt(session.InitialPrompt),
		})
	}
	sort.Slice(summaries, func(a, b int) bool {
		return summaries[a].StartedAt.After(summaries[b].StartedAt)
	})
	return summaries, nil
}

func (j *Journal) sessionPath(sessionID string) string {
	return filepath.Join(j.dir, sessionID+".json")
}

func excerpt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if len(prompt) <= excerptLen {
		return prompt
	}
	return prompt[:excerptLen]
}

// Writer is the single writer for one session's record. All methods are safe
// for use from one goroutine at a time per the journal contract; the mutex
// guards against reads through Snapshot taken from other goroutines.
type Writer struct {
	mu      sync.Mutex
	path    string
	session models.Session
	closed  bool
}

// SessionID returns the session's id.
func (w *Writer) SessionID() string { return w.session.SessionID }

// StartedAt returns the session's start time.
func (w *Writer) StartedAt() time.Time { return w.session.StartedAt }

// Append journals one iteration, assigning the next sequence number, and
// returns only after the record is flushed to disk.
func (w *Writer) Append(iter models.Iteration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrJournalClosed
	}
	iter.N = len(w.session.Iterations) + 1
	if iter.Timestamp.IsZero() {
		iter.Timestamp = time.Now()
	}
	w.session.Iterations = append(w.session.Iterations, iter)
	if err := w.flushLocked(); err != nil {
		// Roll back the in-memory append so the record and disk agree.
		w.session.Iterations = w.session.Iterations[:len(w.session.Iterations)-1]
		return err
	}
	return nil
}

// Close sets the terminal status and end time. Idempotent error: a second
// Close (or any later Append) fails with ErrJournalClosed.
func (w *Writer) Close(status models.SessionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrJournalClosed
	}
	now := time.Now()
	w.session.Status = status
	w.session.EndedAt = &now
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return nil
}

// IterationCount returns the number of journaled iterations.
func (w *Writer) IterationCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.session.Iterations)
}

// Snapshot returns a copy of the session record as currently journaled.
func (w *Writer) Snapshot() models.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	copied := w.session
	copied.Iterations = append([]models.Iteration(nil), w.session.Iterations...)
	return copied
}

func (w *Writer) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked writes the full record to a temp file, fsyncs, and renames it
// into place so readers never observe a torn write.
func (w *Writer) flushLocked() error {
	data, err := json.MarshalIndent(&w.session, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Err: err}
	}
	tmp := w.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &IOError{Op: "create", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IOError{Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IOError{Op: "sync", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "close", Err: err}
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "rename", Err: err}
	}
	return nil
}
