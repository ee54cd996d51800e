package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/events"
	"github.com/helpdeskai/support-platform/internal/middleware"
	"github.com/helpdeskai/support-platform/internal/service"
	"github.com/helpdeskai/support-platform/pkg/logger"
	"github.com/helpdeskai/support-platform/pkg/metrics"
)

const (
	streamBatchSize    = 50
	streamPollInterval = 2 * time.Second
	heartbeatInterval  = 30 * time.Second
)

// StreamHandler serves the live conversation feed over SSE, replaying
// missed events from JetStream and then polling for new ones.
type StreamHandler struct {
	feed                *events.Feed
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(feed *events.Feed, convSvc *service.ConversationService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		feed:                feed,
		conversationService: convSvc,
		logger:              log,
	}
}

// Events handles GET /api/v1/conversations/{id}/events
// Supports ?after_sequence=N for resuming from a specific point.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := middleware.GetCompanyID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversationService.Get(ctx, companyID, conversationID); err != nil {
		writeServiceError(w, err)
		return
	}

	if h.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed is disabled")
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithConversation(companyID, conversationID)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	done := ctx.Done()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()

	cursor := afterSequence
	h.drain(ctx, w, flusher, log, companyID, conversationID, &cursor)

	for {
		select {
		case <-done:
			log.Debug("SSE client disconnected")
			return

		case <-poll.C:
			h.drain(ctx, w, flusher, log, companyID, conversationID, &cursor)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UTC(),
			})
		}
	}
}

// drain pushes everything past the cursor down the wire, batch by batch.
func (h *StreamHandler) drain(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, log *logger.Logger, companyID, conversationID string, cursor *uint64) {
	for {
		evts, lastSeq, hasMore, err := h.feed.GetEvents(ctx, companyID, conversationID, *cursor, streamBatchSize)
		if err != nil {
			log.Warn("failed to fetch feed events", zap.Error(err))
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "feed_error",
				"message": "failed to fetch events",
			})
			return
		}

		for _, evt := range evts {
			select {
			case <-ctx.Done():
				return
			default:
			}
			sendSSEEvent(w, flusher, string(evt.Kind()), evt)
		}

		if lastSeq > *cursor {
			*cursor = lastSeq
		}
		if !hasMore {
			return
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
