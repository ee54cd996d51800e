// Package service implements the conversation lifecycle engine: the status
// state machine, the AI handoff path and agent takeover/release.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/access"
	"github.com/helpdeskai/support-platform/internal/events"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/pkg/logger"
	"github.com/helpdeskai/support-platform/pkg/metrics"
)

// ConversationService handles conversation lifecycle operations.
type ConversationService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	access        access.Checker
	publisher     events.Publisher
	notifier      events.Notifier
	logger        *logger.Logger
	now           func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(
	conversations store.ConversationStore,
	messages store.MessageStore,
	checker access.Checker,
	publisher events.Publisher,
	notifier events.Notifier,
	log *logger.Logger,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		access:        checker,
		publisher:     publisher,
		notifier:      notifier,
		logger:        log,
		now:           time.Now,
	}
}

// WithClock overrides the service clock. Used in tests.
func (s *ConversationService) WithClock(now func() time.Time) *ConversationService {
	s.now = now
	return s
}

// Get retrieves a conversation scoped to the company.
func (s *ConversationService) Get(ctx context.Context, companyID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, companyID, conversationID)
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// List retrieves company conversations, optionally filtered by status.
func (s *ConversationService) List(ctx context.Context, companyID string, statuses []model.Status, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.conversations.ListConversations(ctx, companyID, statuses, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// create starts a new conversation owned by the AI.
func (s *ConversationService) create(ctx context.Context, companyID, customerID string) (*model.Conversation, error) {
	now := s.now()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		CompanyID:    companyID,
		CustomerID:   customerID,
		Status:       model.StatusAIHandling,
		AIProcessing: false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.conversations.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	metrics.ConversationsTotal.WithLabelValues(companyID).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("company_id", companyID),
	)
	return conv, nil
}

// appendSystem writes a lifecycle audit row and publishes it to the feed.
func (s *ConversationService) appendSystem(ctx context.Context, conv *model.Conversation, msgType model.SystemMessageType, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ConversationID:    conv.ID,
		CompanyID:         conv.CompanyID,
		Role:              model.RoleSystem,
		Content:           content,
		Timestamp:         s.now(),
		SystemMessageType: msgType,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append system message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(conv.CompanyID, string(model.RoleSystem)).Inc()
	s.publishMessage(ctx, msg)
	return msg, nil
}

func (s *ConversationService) publishMessage(ctx context.Context, msg *model.Message) {
	_, err := s.publisher.PublishEvent(ctx, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		CompanyID:      msg.CompanyID,
		ConversationID: msg.ConversationID,
		Type:           model.EventMessageCreated,
		CreatedAt:      s.now(),
		Message:        msg,
	})
	if err != nil {
		s.logger.Warn("failed to publish message event", zap.Error(err))
	}
}

func (s *ConversationService) publishStatusChange(ctx context.Context, conv *model.Conversation, from model.Status, reason string) {
	_, err := s.publisher.PublishEvent(ctx, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		CompanyID:      conv.CompanyID,
		ConversationID: conv.ID,
		Type:           model.EventStatusChanged,
		CreatedAt:      s.now(),
		Status: &model.StatusChangePayload{
			From:   from,
			To:     conv.Status,
			Reason: reason,
		},
	})
	if err != nil {
		s.logger.Warn("failed to publish status event", zap.Error(err))
	}
}

// notify delivers a best-effort notice; failures are logged, never returned.
func (s *ConversationService) notify(ctx context.Context, userID string, conv *model.Conversation, kind, reason string) {
	err := s.notifier.Notify(ctx, &model.Notification{
		UserID:         userID,
		CompanyID:      conv.CompanyID,
		ConversationID: conv.ID,
		Kind:           kind,
		Reason:         reason,
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to deliver notification",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

// Claim assigns an agent to a conversation. The status check and the
// transition happen inside a single atomic store update, so when two
// agents race on an available conversation exactly one performs the
// transition; the other becomes a join.
func (s *ConversationService) Claim(ctx context.Context, companyID, agentID, agentName, conversationID string) (*model.Conversation, error) {
	grant, err := s.access.Check(ctx, agentID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to check access: %w", err)
	}
	if !grant.CanClaim() {
		return nil, ErrNotAuthorized
	}

	var claimed, joined bool
	var from model.Status
	conv, err := s.conversations.UpdateConversation(ctx, companyID, conversationID, func(c *model.Conversation) error {
		from = c.Status
		switch c.Status {
		case model.StatusResolved:
			return ErrConversationResolved
		case model.StatusSupportStaffHandling:
			if !c.HasAgent(agentID) {
				c.ParticipatingAgents = append(c.ParticipatingAgents, agentID)
				joined = true
			}
		default: // ai_handling or available: take over from the AI/queue
			c.Status = model.StatusSupportStaffHandling
			c.ParticipatingAgents = append(c.ParticipatingAgents, agentID)
			c.AIProcessing = false
			c.HandoffTriggeredAt = nil
			c.HandoffReason = ""
			claimed = true
		}
		return nil
	})
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	displayName := agentName
	if displayName == "" {
		displayName = agentID
	}

	switch {
	case claimed:
		if _, err := s.appendSystem(ctx, conv, model.SystemMessageAgentJoined, fmt.Sprintf("%s took over the conversation", displayName)); err != nil {
			return nil, err
		}
		s.publishStatusChange(ctx, conv, from, "agent claimed")
	case joined:
		if _, err := s.appendSystem(ctx, conv, model.SystemMessageAgentJoined, fmt.Sprintf("%s joined the conversation", displayName)); err != nil {
			return nil, err
		}
		for _, other := range conv.ParticipatingAgents {
			if other != agentID {
				s.notify(ctx, other, conv, "agent_joined", displayName+" joined")
			}
		}
	}

	return conv, nil
}

// Resolve closes a conversation. Resolving an already-resolved
// conversation is a no-op.
func (s *ConversationService) Resolve(ctx context.Context, companyID, agentID, conversationID string) (*model.Conversation, error) {
	grant, err := s.access.Check(ctx, agentID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to check access: %w", err)
	}
	if !grant.CanResolve() {
		return nil, ErrNotAuthorized
	}

	var resolvedNow bool
	var from model.Status
	conv, err := s.conversations.UpdateConversation(ctx, companyID, conversationID, func(c *model.Conversation) error {
		from = c.Status
		if c.Status == model.StatusResolved {
			return nil
		}
		c.Status = model.StatusResolved
		c.AIProcessing = false
		resolvedNow = true
		return nil
	})
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if resolvedNow {
		if _, err := s.appendSystem(ctx, conv, model.SystemMessageIssueResolved, "Conversation marked as resolved"); err != nil {
			return nil, err
		}
		s.publishStatusChange(ctx, conv, from, "resolved by agent")
	}

	return conv, nil
}
