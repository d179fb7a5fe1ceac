package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/model"
	"github.com/halcyon-sec/soar/internal/session"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	sessions *session.Manager
	hub      *hub.Hub
	store    eventstore.Store
	logger   *slog.Logger
	version  string

	// runCtx is the lifetime for runs started over HTTP. Runs must outlive
	// the request that started them; only shutdown or an explicit command
	// ends them.
	runCtx context.Context
}

// HandlersDeps carries the dependencies for NewHandlers.
type HandlersDeps struct {
	Sessions *session.Manager
	Hub      *hub.Hub
	Store    eventstore.Store
	Logger   *slog.Logger
	Version  string
	RunCtx   context.Context
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	runCtx := deps.RunCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &Handlers{
		sessions: deps.Sessions,
		hub:      deps.Hub,
		store:    deps.Store,
		logger:   deps.Logger,
		version:  deps.Version,
		runCtx:   runCtx,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     h.version,
		"active_runs": h.sessions.ActiveRuns(),
		"subscribers": h.hub.SubscriberCount(),
	})
}

// HandleStartRun handles POST /v1/sessions/{session_id}/start.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidRequest, "session_id is required")
		return
	}

	runID := h.sessions.Start(h.runCtx, sessionID)
	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"run_id":     runID,
		"session_id": sessionID,
	})
}

// HandleApprove handles POST /v1/sessions/{session_id}/approve.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	runID, ok := h.sessions.Approve(sessionID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no active run for session")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"run_id":   runID,
		"approved": true,
	})
}

// HandleCancel handles POST /v1/sessions/{session_id}/cancel.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	runID, ok := h.sessions.Cancel(sessionID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no active run for session")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"run_id":    runID,
		"cancelled": true,
	})
}

// HandleRecentEvents handles GET /v1/events/recent.
func (h *Handlers) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("recent events query", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to read audit records")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// HandleFeed handles GET /v1/feed (SSE). Disconnecting an observer never
// affects the runs it was watching.
func (h *Handlers) HandleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
