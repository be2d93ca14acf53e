package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cloudpeek/browsergrid/internal/artifact"
	"github.com/cloudpeek/browsergrid/internal/events"
	"github.com/cloudpeek/browsergrid/internal/executor"
	"github.com/cloudpeek/browsergrid/internal/session"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	registry  *session.Registry
	executor  *executor.Executor
	artifacts *artifact.Tracker
	events    *events.Hub
	minTTL    int64
	maxTTL    int64
	log       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(registry *session.Registry, exec *executor.Executor, artifacts *artifact.Tracker, hub *events.Hub, minTTL, maxTTL int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		registry:  registry,
		executor:  exec,
		artifacts: artifacts,
		events:    hub,
		minTTL:    minTTL,
		maxTTL:    maxTTL,
		log:       log,
	}
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewError(models.KindValidation, "invalid request body: %v", err))
		return
	}

	if req.TTL < h.minTTL || req.TTL > h.maxTTL {
		writeError(w, models.NewError(models.KindValidation,
			"ttl must be between %d and %d milliseconds", h.minTTL, h.maxTTL))
		return
	}

	sess, err := h.registry.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// DeleteSession handles DELETE /v1/sessions/{id}. Termination is
// idempotent, so deleting an unknown or already-removed id succeeds.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.registry.Terminate(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteCommands handles POST /v1/sessions/{id}/execute. The body is
// either a single command object or an array of commands. A single object
// answers with its lone CommandResult for compatibility with pre-sequence
// callers; an array answers with the full SequenceResult.
func (h *Handler) ExecuteCommands(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, models.NewError(models.KindValidation, "invalid request body: %v", err))
		return
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	isSequence := len(trimmed) > 0 && trimmed[0] == '['

	var requests []models.CommandRequest
	if isSequence {
		if err := json.Unmarshal(raw, &requests); err != nil {
			writeError(w, models.NewError(models.KindValidation, "invalid command array: %v", err))
			return
		}
		if len(requests) == 0 {
			writeError(w, models.NewError(models.KindValidation, "command array must not be empty"))
			return
		}
	} else {
		var req models.CommandRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, models.NewError(models.KindValidation, "invalid command: %v", err))
			return
		}
		requests = []models.CommandRequest{req}
	}

	for i, req := range requests {
		if req.Name == "" {
			writeError(w, models.NewError(models.KindValidation, "command at index %d has no name", i))
			return
		}
	}

	result, err := h.executor.ExecuteMany(id, requests)
	if err != nil {
		writeError(w, err)
		return
	}

	if !isSequence {
		writeJSON(w, http.StatusOK, result.Results[0])
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRecording handles GET /v1/sessions/{id}/recording, serving the
// finalized artifact while it remains within its retention window.
func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	path, ok := h.artifacts.Lookup(id)
	if !ok {
		writeError(w, models.NewError(models.KindSessionNotFound, "no recording for session %s", id))
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, models.NewError(models.KindSessionNotFound, "recording for session %s is not available yet", id))
		return
	}

	w.Header().Set("Content-Type", "video/webm")
	http.ServeFile(w, r, path)
}

// StreamEvents handles GET /v1/sessions/{id}/events (websocket).
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.registry.Get(id); err != nil {
		writeError(w, err)
		return
	}

	h.events.Serve(w, r, id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the closed error taxonomy onto HTTP statuses in one
// place.
func writeError(w http.ResponseWriter, err error) {
	e := models.AsError(err)

	status := http.StatusInternalServerError
	switch e.Kind {
	case models.KindSessionNotFound:
		status = http.StatusNotFound
	case models.KindCapacityExceeded:
		status = http.StatusTooManyRequests
	case models.KindValidation, models.KindProxyValidation, models.KindCommandNotFound:
		status = http.StatusBadRequest
	case models.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, e)
}
