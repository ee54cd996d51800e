package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/helpdeskai/support-platform/internal/ratelimit"
	"github.com/helpdeskai/support-platform/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var exceeded *ratelimit.ExceededError
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, service.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, service.ErrConversationResolved):
		writeError(w, http.StatusConflict, "conversation is resolved")
	case errors.Is(err, service.ErrAIHandled):
		writeError(w, http.StatusConflict, "conversation is being handled by the assistant")
	case errors.As(err, &exceeded):
		w.Header().Set("Content-Type", "application/json")
		retryAfter := int(exceeded.RetryAfter / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":         exceeded.Error(),
			"limit_type":    exceeded.LimitType,
			"blocked_until": exceeded.BlockedUntil,
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
