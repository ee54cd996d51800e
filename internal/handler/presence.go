package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helpdeskai/support-platform/internal/middleware"
	"github.com/helpdeskai/support-platform/internal/presence"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// PresenceHandler handles typing and viewing state endpoints.
type PresenceHandler struct {
	tracker *presence.Tracker
	logger  *logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(tracker *presence.Tracker, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		tracker: tracker,
		logger:  log,
	}
}

func (h *PresenceHandler) writePresenceError(w http.ResponseWriter, err error) {
	if errors.Is(err, presence.ErrNotAuthorized) {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// SetTyping handles POST /api/v1/conversations/{id}/typing
func (h *PresenceHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.tracker.SetTyping(ctx, userID, companyID, conversationID, req.IsTyping); err != nil {
		h.writePresenceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles POST /api/v1/presence/heartbeat
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.tracker.Heartbeat(ctx, userID); err != nil {
		h.writePresenceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetViewing handles POST /api/v1/conversations/{id}/viewing
func (h *PresenceHandler) SetViewing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tracker.SetViewing(ctx, userID, companyID, conversationID); err != nil {
		h.writePresenceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Typing handles GET /api/v1/conversations/{id}/typing
func (h *PresenceHandler) Typing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	typing, err := h.tracker.TypingUsers(ctx, userID, companyID, conversationID, userID)
	if err != nil {
		h.writePresenceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"typing": typing,
	})
}

// Viewing handles GET /api/v1/conversations/{id}/viewing
func (h *PresenceHandler) Viewing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	viewing, err := h.tracker.ViewingAgents(ctx, userID, companyID, conversationID)
	if err != nil {
		h.writePresenceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"viewing": viewing,
	})
}
