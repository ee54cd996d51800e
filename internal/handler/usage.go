package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/helpdeskai/support-platform/internal/middleware"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// UsageHandler exposes rollup counters for billing dashboards.
type UsageHandler struct {
	usage  store.UsageStore
	logger *logger.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(usage store.UsageStore, log *logger.Logger) *UsageHandler {
	return &UsageHandler{
		usage:  usage,
		logger: log,
	}
}

// Get handles GET /api/v1/usage?period=daily&start=2026-09-01T00:00:00Z
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)

	period := model.UsagePeriod(r.URL.Query().Get("period"))
	if period != model.UsageHourly && period != model.UsageDaily {
		writeError(w, http.StatusBadRequest, "period must be hourly or daily")
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}

	counter, err := h.usage.GetUsage(ctx, companyID, period, start)
	if errors.Is(err, store.ErrNotFound) {
		// No traffic in the period reads as a zero row, not a 404.
		counter = &model.UsageCounter{
			CompanyID:   companyID,
			Period:      period,
			PeriodStart: start,
		}
	} else if err != nil {
		h.logger.Error("failed to read usage")
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, counter)
}
