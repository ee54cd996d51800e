package handler

import (
	"net/http"

	"github.com/helpdeskai/support-platform/internal/middleware"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/ratelimit"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// RateLimitHandler exposes the pre-flight limit check.
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
	logger  *logger.Logger
}

// NewRateLimitHandler creates a new rate limit handler.
func NewRateLimitHandler(limiter *ratelimit.Limiter, log *logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		limiter: limiter,
		logger:  log,
	}
}

// Check handles GET /api/v1/rate-limit?type=ai_response, a read-only
// status check that never counts against the window.
func (h *RateLimitHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)
	userID := middleware.GetUserID(ctx)

	limitType := model.LimitType(r.URL.Query().Get("type"))
	var identifier string
	switch limitType {
	case model.LimitAIResponse:
		identifier = companyID
	case model.LimitUserMessage, model.LimitFileUpload:
		identifier = userID
	default:
		writeError(w, http.StatusBadRequest, "unknown limit type")
		return
	}

	status, err := h.limiter.Check(ctx, limitType, identifier)
	if err != nil {
		h.logger.Error("failed to check rate limit")
		writeError(w, http.StatusInternalServerError, "failed to check rate limit")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
