package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
)

// Cancellation phase timeouts.
const (
	gracefulTimeout = 5 * time.Second
	forceTimeout    = 3 * time.Second
)

// Cancellation event types surfaced via the progress callback.
const (
	EventCancelRequested = "cancel_requested"
	EventCancelGraceful  = "cancel_graceful"
	EventCancelForced    = "cancel_forced"
	EventCancelFailed    = "cancel_failed"
)

// Task is a running agent session registered for cancellation.
type Task struct {
	Cancel        context.CancelFunc
	Done          <-chan struct{}
	SubprocessPID int
}

type sessionKey struct{}

// WithSession tags ctx with the chat session id so lower layers, such
// as the subprocess provider, can report back to the canceller.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id set by WithSession.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}

// Canceller tracks running sessions and performs the graceful-then-force
// cancellation protocol.
type Canceller struct {
	mu         sync.Mutex
	active     map[string]*Task
	cancelling map[string]bool
	progress   Progress
	log        *slog.Logger

	graceful time.Duration
	force    time.Duration
}

// NewCanceller creates an empty registry.
func NewCanceller(log *slog.Logger) *Canceller {
	if log == nil {
		log = slog.Default()
	}
	return &Canceller{
		active:     make(map[string]*Task),
		cancelling: make(map[string]bool),
		log:        log,
		graceful:   gracefulTimeout,
		force:      forceTimeout,
	}
}

// SetProgress registers the cancellation event callback.
func (c *Canceller) SetProgress(p Progress) { c.progress = p }

// Register records a running session. The previous registration for the
// same session, if any, is replaced.
func (c *Canceller) Register(sessionID string, task *Task) {
	c.mu.Lock()
	c.active[sessionID] = task
	delete(c.cancelling, sessionID)
	c.mu.Unlock()
}

// Complete removes a finished session.
func (c *Canceller) Complete(sessionID string) {
	c.mu.Lock()
	delete(c.active, sessionID)
	delete(c.cancelling, sessionID)
	c.mu.Unlock()
}

// SetPID attaches a subprocess pid to a running session, giving the
// forced phase something to signal. Unknown sessions are ignored.
func (c *Canceller) SetPID(sessionID string, pid int) {
	c.mu.Lock()
	if task, ok := c.active[sessionID]; ok {
		task.SubprocessPID = pid
	}
	c.mu.Unlock()
}

// Active reports whether a session is registered.
func (c *Canceller) Active(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[sessionID]
	return ok
}

// Cancel runs the three-phase protocol. It returns false when the
// session is unknown or a cancellation for it is already in flight.
func (c *Canceller) Cancel(sessionID string) bool {
	c.mu.Lock()
	task, ok := c.active[sessionID]
	if !ok || c.cancelling[sessionID] {
		c.mu.Unlock()
		return false
	}
	c.cancelling[sessionID] = true
	c.mu.Unlock()

	c.emit(sessionID, EventCancelRequested, "cancellation requested", nil)

	// Phase 1: cooperative.
	task.Cancel()
	if c.await(task.Done, c.graceful) {
		c.emit(sessionID, EventCancelGraceful, "task stopped gracefully", nil)
		c.Complete(sessionID)
		return true
	}

	// Phase 2: forced, only meaningful with a subprocess to signal.
	if task.SubprocessPID > 0 {
		if c.terminate(sessionID, task.SubprocessPID) && c.await(task.Done, c.force) {
			c.emit(sessionID, EventCancelForced, "task terminated", map[string]any{"pid": task.SubprocessPID})
			c.Complete(sessionID)
			return true
		}
		c.kill(sessionID, task.SubprocessPID)
		if c.await(task.Done, c.force) {
			c.emit(sessionID, EventCancelForced, "task killed", map[string]any{"pid": task.SubprocessPID})
			c.Complete(sessionID)
			return true
		}
	}

	// Phase 3: report failure. The registration stays so a later
	// Complete from the task itself still cleans up.
	c.emit(sessionID, EventCancelFailed, "task did not stop", nil)
	c.mu.Lock()
	delete(c.cancelling, sessionID)
	c.mu.Unlock()
	return false
}

func (c *Canceller) await(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Canceller) terminate(sessionID string, pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		c.log.Warn("find subprocess", "session", sessionID, "pid", pid, "error", err)
		return false
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		c.log.Warn("terminate subprocess", "session", sessionID, "pid", pid, "error", err)
		return false
	}
	return true
}

func (c *Canceller) kill(sessionID string, pid int) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Kill(); err != nil {
		c.log.Warn("kill subprocess", "session", sessionID, "pid", pid, "error", err)
	}
}

func (c *Canceller) emit(sessionID, eventType, message string, data any) {
	if c.progress != nil {
		c.progress(sessionID, eventType, message, data)
	}
	c.log.Info(fmt.Sprintf("cancel: %s", eventType), "session", sessionID)
}
