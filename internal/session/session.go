// Package session maps external actors to incident runs. Each session owns
// zero or one active run; starting a new run first cancels the previous
// one, so the at-most-one-active-run invariant holds at every instant.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-sec/soar/internal/model"
	"github.com/halcyon-sec/soar/internal/orchestrator"
)

// Cancellation reasons surfaced in terminal run records.
const (
	reasonSuperseded = "superseded by new run"
	reasonOperator   = "cancelled by operator"
	reasonSessionEnd = "session ended"
)

// Manager owns the session to run mapping. All mutation goes through one
// mutex; the handles themselves carry the per-run cancellation state.
type Manager struct {
	engine *orchestrator.Engine
	broker *orchestrator.Broker
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*orchestrator.Handle
}

// NewManager creates a session manager.
func NewManager(engine *orchestrator.Engine, broker *orchestrator.Broker, logger *slog.Logger) *Manager {
	return &Manager{
		engine: engine,
		broker: broker,
		logger: logger,
		runs:   make(map[string]*orchestrator.Handle),
	}
}

// Start cancels the session's active run, if any, then launches a fresh
// run on its own goroutine and returns the new run id. ctx bounds the
// run's lifetime; cancelling it ends the run.
func (m *Manager) Start(ctx context.Context, sessionID string) uuid.UUID {
	run := model.NewRun(sessionID)
	runCtx, cancel := context.WithCancel(ctx)
	h := orchestrator.NewHandle(run, cancel)

	m.mu.Lock()
	prev := m.runs[sessionID]
	m.runs[sessionID] = h
	m.mu.Unlock()

	if prev != nil {
		prev.Cancel(reasonSuperseded)
		m.logger.Info("superseding active run",
			"session_id", sessionID, "old_run_id", prev.RunID(), "new_run_id", run.ID)
	}

	go func() {
		defer cancel()
		m.engine.Execute(runCtx, h)
		m.forget(sessionID, h)
	}()

	m.logger.Info("run started", "session_id", sessionID, "run_id", run.ID)
	return run.ID
}

// Approve signals the approval broker for the session's current run.
// Reports false when the session has no active run; a signal for a run
// that is not waiting is a harmless no-op at the broker.
func (m *Manager) Approve(sessionID string) (uuid.UUID, bool) {
	m.mu.Lock()
	h, ok := m.runs[sessionID]
	m.mu.Unlock()
	if !ok {
		return uuid.Nil, false
	}
	m.broker.Signal(h.RunID())
	m.logger.Info("approval signalled", "session_id", sessionID, "run_id", h.RunID())
	return h.RunID(), true
}

// Cancel terminates the session's active run by operator request.
func (m *Manager) Cancel(sessionID string) (uuid.UUID, bool) {
	return m.cancel(sessionID, reasonOperator)
}

// End terminates the session's run and forgets the session.
func (m *Manager) End(sessionID string) {
	m.cancel(sessionID, reasonSessionEnd)
}

func (m *Manager) cancel(sessionID, reason string) (uuid.UUID, bool) {
	m.mu.Lock()
	h, ok := m.runs[sessionID]
	delete(m.runs, sessionID)
	m.mu.Unlock()
	if !ok {
		return uuid.Nil, false
	}
	h.Cancel(reason)
	m.logger.Info("run cancelled", "session_id", sessionID, "run_id", h.RunID(), "reason", reason)
	return h.RunID(), true
}

// Run returns the session's active run id, if any.
func (m *Manager) Run(sessionID string) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[sessionID]
	if !ok {
		return uuid.Nil, false
	}
	return h.RunID(), true
}

// ActiveRuns returns the number of sessions with a live run.
func (m *Manager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// forget drops the mapping once a run finishes, unless the session has
// already been taken over by a newer run.
func (m *Manager) forget(sessionID string, h *orchestrator.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[sessionID] == h {
		delete(m.runs, sessionID)
	}
}
