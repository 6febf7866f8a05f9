package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/control"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/storage/sqlite"
	"github.com/yegors/handsfree/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	ctrl   control.Controller
	store  *sqlite.Store
	config *config.Config
	logger *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(ctrl control.Controller, store *sqlite.Store, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		ctrl:   ctrl,
		store:  store,
		config: cfg,
		logger: log.Named("api-handler"),
	}
}

// Health reports that the daemon is up
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// GetStatus returns the current session and queue state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.ctrl.Status())
}

// Toggle starts or stops listening
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Toggle(r.Context())
	h.writeControlResult(w, "toggle", st, err)
}

// Start begins listening
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Start(r.Context())
	h.writeControlResult(w, "start", st, err)
}

// Stop ends the active session
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.ctrl.Stop())
}

func (h *Handler) writeControlResult(w http.ResponseWriter, action string, st pipeline.Status, err error) {
	if err == nil {
		WriteJSON(w, http.StatusOK, st)
		return
	}

	status := statusCodeFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Session command failed", logger.String("action", action), logger.Error(err))
	} else {
		h.logger.Info("Session command refused", logger.String("action", action), logger.Error(err))
	}
	WriteJSON(w, status, map[string]any{
		"error":  err.Error(),
		"code":   control.ErrorCode(err),
		"status": st,
	})
}

// statusCodeFor maps start failures to HTTP statuses
func statusCodeFor(err error) int {
	switch control.ErrorCode(err) {
	case control.CodeNotConfigured:
		return http.StatusPreconditionFailed
	case control.CodePermissionDenied:
		return http.StatusForbidden
	case control.CodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	case control.CodeAlreadyActive, control.CodeStartCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GetSessions returns recorded sessions, newest first
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	limit, offset := parsePaginationParams(r)

	sessions, err := h.store.GetSessions(limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve sessions", logger.Error(err))
		http.Error(w, "Failed to retrieve sessions", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"count":     len(sessions),
		"sessions":  sessions,
	})
}

// GetSession returns one recorded session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")

	session, err := h.store.GetSession(id)
	if errors.Is(err, sqlite.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to retrieve session", logger.String("session_id", id), logger.Error(err))
		http.Error(w, "Failed to retrieve session", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, session)
}

// GetSessionTranscripts returns a session's transcripts in capture order
func (h *Handler) GetSessionTranscripts(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	limit, offset := parsePaginationParams(r)

	transcripts, err := h.store.GetTranscriptsBySession(id, limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve transcripts by session", logger.String("session_id", id), logger.Error(err))
		http.Error(w, "Failed to retrieve transcripts", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp":   time.Now(),
		"session_id":  id,
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

// GetRecentTranscripts returns the latest transcripts across sessions
func (h *Handler) GetRecentTranscripts(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	limit, offset := parsePaginationParams(r)

	transcripts, err := h.store.GetRecentTranscripts(limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve recent transcripts", logger.Error(err))
		http.Error(w, "Failed to retrieve transcripts", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp":   time.Now(),
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		http.Error(w, "Transcript journal is disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100 // Default limit
	offset := 0  // Default offset

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
