package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgard/inboxpilot/internal/bot"
	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/sandbox"
)

const maxBodyBytes = 1 << 20

type handler struct {
	deps Deps
	log  *slog.Logger
}

// health handles GET /healthz.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.deps.Store.Ping(ctx); err != nil {
		h.log.WarnContext(ctx, "Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// schedulerStatus handles GET /scheduler/status.
func (h *handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Jobs.Status())
}

// triggerFollowUps handles POST /scheduler/followups/trigger. It runs the job
// synchronously and returns its status afterwards.
func (h *handler) triggerFollowUps(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Jobs.TriggerFollowupProcessing(r.Context())
	switch {
	case errors.Is(err, bot.ErrJobRunning):
		writeError(w, http.StatusConflict, "follow-up processing is already running")
		return
	case errors.Is(err, bot.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "follow-up processing is not registered")
		return
	}

	var job *bot.JobStatus
	for _, j := range h.deps.Jobs.Status().Jobs {
		if j.Name == config.JobFollowUp {
			job = &j
			break
		}
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "Triggered follow-up processing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "job": job})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// resolveEscalation handles POST /conversations/{id}/escalation/resolve.
func (h *handler) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.deps.Resolver.ResolveEscalation(r.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "Failed to resolve escalation", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve escalation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "resolved": n})
}

// runSandbox handles POST /sandbox/run.
func (h *handler) runSandbox(w http.ResponseWriter, r *http.Request) {
	var req sandbox.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.deps.Sandbox.Run(r.Context(), req)
	switch {
	case errors.Is(err, sandbox.ErrUnknownScenario):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, sandbox.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "Sandbox run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sandbox run failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
