package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-sec/soar/internal/model"
)

// Handle is the control surface for one running incident. The engine
// goroutine owns the run's state; other goroutines interact only through
// Cancel and Done. The handle's mutex makes stage entry atomic with respect
// to a concurrent cancel: once Cancel has been observed, no further stage
// (in particular Remediate) can begin.
type Handle struct {
	Run *model.Run

	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	cancelled    bool
	cancelReason string
	finished     bool
}

// NewHandle wraps a run and the cancel func for its execution context.
func NewHandle(run *model.Run, cancel context.CancelFunc) *Handle {
	return &Handle{
		Run:    run,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// RunID returns the run's immutable identifier.
func (h *Handle) RunID() uuid.UUID { return h.Run.ID }

// Cancel requests termination of the run. The first call wins; calls after
// the run has finished are no-ops. Reports whether the cancellation took
// effect.
func (h *Handle) Cancel(reason string) bool {
	h.mu.Lock()
	if h.cancelled || h.finished {
		h.mu.Unlock()
		return false
	}
	h.cancelled = true
	h.cancelReason = reason
	h.mu.Unlock()

	h.cancel()
	return true
}

// Done is closed when the engine goroutine has fully finished the run,
// including its terminal audit record and feed event.
func (h *Handle) Done() <-chan struct{} { return h.done }

// enterStage atomically checks for cancellation and advances the run to
// the next stage. Returns false, with the cancel reason, when the run has
// been cancelled and the stage must not execute.
func (h *Handle) enterStage(s model.Stage) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return h.cancelReason, false
	}
	h.Run.Stage = s
	return "", true
}

// finish marks the run terminal. Cancels arriving after this are ignored.
func (h *Handle) finish(stage model.Stage, status model.RunStatus, reason string) {
	h.mu.Lock()
	h.Run.Stage = stage
	h.Run.Status = status
	h.Run.StatusReason = reason
	h.finished = true
	h.mu.Unlock()
}

// cancelFor returns the pending cancel reason, if any.
func (h *Handle) cancelFor() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelReason, h.cancelled
}
