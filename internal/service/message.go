package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/access"
	"github.com/helpdeskai/support-platform/internal/billing"
	"github.com/helpdeskai/support-platform/internal/events"
	"github.com/helpdeskai/support-platform/internal/llm"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/prompt"
	"github.com/helpdeskai/support-platform/internal/ratelimit"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/internal/usage"
	"github.com/helpdeskai/support-platform/pkg/logger"
	"github.com/helpdeskai/support-platform/pkg/metrics"
)

// Handoff reasons recorded on the conversation.
const (
	HandoffReasonRateLimit = "rate limit reached"
	HandoffReasonQuota     = "monthly AI response limit reached"
	HandoffReasonCustomer  = "Customer requested human support"
	HandoffReasonAI        = "AI requested handoff"
)

const historyLimit = 50

// MessageDeps bundles the collaborators of the message service.
type MessageDeps struct {
	Conversations store.ConversationStore
	Messages      store.MessageStore
	Companies     store.CompanyStore
	ConvService   *ConversationService
	Limiter       *ratelimit.Limiter
	Plans         billing.Plans
	LLM           llm.Client
	Usage         *usage.Aggregator
	Publisher     events.Publisher
	Notifier      events.Notifier
	Access        access.Checker
	Logger        *logger.Logger
	LLMTimeout    time.Duration
}

// MessageService handles message ingestion, including the AI response
// path with its escalation logic.
type MessageService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	companies     store.CompanyStore
	convService   *ConversationService
	limiter       *ratelimit.Limiter
	plans         billing.Plans
	llmClient     llm.Client
	usage         *usage.Aggregator
	publisher     events.Publisher
	notifier      events.Notifier
	access        access.Checker
	logger        *logger.Logger
	llmTimeout    time.Duration
	now           func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(deps MessageDeps) *MessageService {
	timeout := deps.LLMTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &MessageService{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		companies:     deps.Companies,
		convService:   deps.ConvService,
		limiter:       deps.Limiter,
		plans:         deps.Plans,
		llmClient:     deps.LLM,
		usage:         deps.Usage,
		publisher:     deps.Publisher,
		notifier:      deps.Notifier,
		access:        deps.Access,
		logger:        deps.Logger,
		llmTimeout:    timeout,
		now:           time.Now,
	}
}

// WithClock overrides the service clock. Used in tests.
func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

// resolveConversation finds the conversation a customer message belongs
// to. A message addressed to a resolved conversation starts a fresh one;
// the resolved thread stays behind as history.
func (s *MessageService) resolveConversation(ctx context.Context, companyID, customerID, conversationID string) (*model.Conversation, error) {
	if conversationID != "" {
		conv, err := s.conversations.GetConversation(ctx, companyID, conversationID)
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if conv.CustomerID != customerID {
			return nil, ErrNotFound
		}
		if conv.Status != model.StatusResolved {
			return conv, nil
		}
		return s.convService.create(ctx, companyID, customerID)
	}

	conv, err := s.conversations.LatestConversationForCustomer(ctx, companyID, customerID)
	if err == store.ErrNotFound || (err == nil && conv.Status == model.StatusResolved) {
		return s.convService.create(ctx, companyID, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return conv, nil
}

// SendCustomerMessage ingests a customer message and, when the AI owns the
// conversation, drives the AI response path.
func (s *MessageService) SendCustomerMessage(ctx context.Context, companyID, customerID, conversationID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	// Short-term abuse ceiling on customer messaging, before anything is
	// persisted.
	if err := s.limiter.Record(ctx, model.LimitUserMessage, customerID); err != nil {
		return nil, err
	}

	conv, err := s.resolveConversation(ctx, companyID, customerID, conversationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		CompanyID:      companyID,
		Role:           model.RoleCustomer,
		Content:        req.Content,
		Timestamp:      now,
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: req.AttachmentType,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	conv, err = s.conversations.UpdateConversation(ctx, companyID, conv.ID, func(c *model.Conversation) error {
		c.MessageCount++
		c.LastMessageAt = &now
		if c.FirstMessageAt == nil {
			c.FirstMessageAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(companyID, string(model.RoleCustomer)).Inc()
	s.convService.publishMessage(ctx, msg)
	if err := s.usage.RecordMessage(ctx, companyID); err != nil {
		s.logger.Warn("failed to record message usage", zap.Error(err))
	}

	conv, err = s.maybeRespond(ctx, conv)
	if err != nil {
		return nil, err
	}

	return &model.SendMessageResponse{Message: msg, Conversation: conv}, nil
}

// maybeRespond runs steps 2-8 of the ingestion algorithm: decide whether
// the AI should answer, and if so call the model and apply its decision.
func (s *MessageService) maybeRespond(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	// Acquire the aiProcessing flag in the same atomic update that checks
	// status, so concurrent messages on one conversation yield at most one
	// AI call in flight.
	eligible := false
	conv, err := s.conversations.UpdateConversation(ctx, conv.CompanyID, conv.ID, func(c *model.Conversation) error {
		if c.Status != model.StatusAIHandling {
			return nil // a human or the queue owns it
		}
		if c.AIProcessing {
			return nil // another AI call is already in flight
		}
		c.AIProcessing = true
		eligible = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire AI slot: %w", err)
	}
	if !eligible {
		return conv, nil
	}

	// From here the flag must be released on every path. Cleanup uses a
	// detached context so a cancelled request cannot strand the flag.
	cleanupCtx := context.WithoutCancel(ctx)

	// Monthly plan quota is checked before the sliding window; the two are
	// independent ceilings with quota taking precedence.
	quota, err := s.plans.Quota(ctx, conv.CompanyID)
	if err != nil {
		s.logger.Error("failed to check plan quota", zap.Error(err))
		return s.handoff(cleanupCtx, conv, HandoffReasonQuota)
	}
	if quota.Exhausted() {
		return s.handoff(cleanupCtx, conv, HandoffReasonQuota)
	}

	if err := s.limiter.Record(ctx, model.LimitAIResponse, conv.CompanyID); err != nil {
		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) {
			return s.handoff(cleanupCtx, conv, HandoffReasonRateLimit)
		}
		s.releaseAISlot(cleanupCtx, conv)
		return nil, err
	}

	company, err := s.companies.GetCompany(ctx, conv.CompanyID)
	if err != nil {
		s.logger.Error("failed to load company settings", zap.Error(err))
		return s.recoverAI(cleanupCtx, conv)
	}

	history, err := s.messages.ListMessages(ctx, conv.CompanyID, conv.ID, historyLimit)
	if err != nil {
		s.logger.Error("failed to load history", zap.Error(err))
		return s.recoverAI(cleanupCtx, conv)
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	start := s.now()
	resp, err := s.llmClient.Complete(llmCtx, &llm.CompletionRequest{
		Model:    company.AISettings.SelectedModel,
		System:   prompt.Build(company.AISettings),
		Messages: prompt.BuildHistory(history),
		Tools:    []llm.Tool{llm.EscalationTool()},
	})
	if err != nil {
		// Provider/timeout failure: the customer never sees the raw error.
		s.logger.Error("LLM call failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		metrics.AIResponsesTotal.WithLabelValues(company.AISettings.SelectedModel, "failed").Inc()
		return s.recoverAI(cleanupCtx, conv)
	}
	if resp.LatencyMs <= 0 {
		resp.LatencyMs = s.now().Sub(start).Milliseconds()
	}

	if resp.Content != "" || resp.ToolCall == nil {
		content := resp.Content
		if content == "" {
			content = prompt.FallbackApology
		}
		if err := s.appendAIMessage(cleanupCtx, conv, content, resp); err != nil {
			s.releaseAISlot(cleanupCtx, conv)
			return nil, err
		}
	}

	if resp.ToolCall != nil && resp.ToolCall.Name == llm.EscalateToolName {
		reason := resp.ToolCall.Reason()
		if reason == "" {
			reason = HandoffReasonAI
		}
		metrics.RecordAIResponse(resp.Model, "escalated", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
		return s.handoff(cleanupCtx, conv, reason)
	}

	metrics.RecordAIResponse(resp.Model, "answered", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)

	if err := s.plans.RecordAIResponse(cleanupCtx, conv.CompanyID); err != nil {
		s.logger.Warn("failed to record plan usage", zap.Error(err))
	}
	if err := s.usage.RecordAIResponse(cleanupCtx, conv.CompanyID); err != nil {
		s.logger.Warn("failed to record AI usage", zap.Error(err))
	}

	return s.clearProcessing(cleanupCtx, conv)
}

func (s *MessageService) appendAIMessage(ctx context.Context, conv *model.Conversation, content string, resp *llm.CompletionResponse) error {
	now := s.now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		CompanyID:      conv.CompanyID,
		Role:           model.RoleAI,
		Content:        content,
		Timestamp:      now,
	}
	if resp != nil {
		msg.AIModel = resp.Model
		msg.TokensUsed = resp.TokensIn + resp.TokensOut
		msg.ProcessingTimeMs = resp.LatencyMs
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to append AI message: %w", err)
	}

	if _, err := s.conversations.UpdateConversation(ctx, conv.CompanyID, conv.ID, func(c *model.Conversation) error {
		c.MessageCount++
		c.LastMessageAt = &now
		return nil
	}); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(conv.CompanyID, string(model.RoleAI)).Inc()
	s.convService.publishMessage(ctx, msg)
	return nil
}

// recoverAI handles an unrecoverable provider failure: the flag is
// cleared, a fixed apology is appended and the conversation stays in
// ai_handling so the customer can retry.
func (s *MessageService) recoverAI(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	if err := s.appendAIMessage(ctx, conv, prompt.FallbackApology, nil); err != nil {
		s.logger.Error("failed to append fallback message", zap.Error(err))
	}
	return s.clearProcessing(ctx, conv)
}

// releaseAISlot clears the flag on an error exit that produced no message
// and no transition. A stranded flag would block every future AI response
// for the conversation, so the release failure is only logged.
func (s *MessageService) releaseAISlot(ctx context.Context, conv *model.Conversation) {
	if _, err := s.clearProcessing(ctx, conv); err != nil {
		s.logger.Error("failed to release AI slot",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}

func (s *MessageService) clearProcessing(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	updated, err := s.conversations.UpdateConversation(ctx, conv.CompanyID, conv.ID, func(c *model.Conversation) error {
		c.AIProcessing = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear AI processing flag: %w", err)
	}
	return updated, nil
}

// handoff transitions the conversation to the agent queue, releasing the
// AI slot in the same update.
func (s *MessageService) handoff(ctx context.Context, conv *model.Conversation, reason string) (*model.Conversation, error) {
	now := s.now()
	var from model.Status
	updated, err := s.conversations.UpdateConversation(ctx, conv.CompanyID, conv.ID, func(c *model.Conversation) error {
		from = c.Status
		c.AIProcessing = false
		if c.Status != model.StatusAIHandling {
			return nil // an agent got there first; nothing to hand off
		}
		c.Status = model.StatusAvailable
		c.HandoffTriggeredAt = &now
		c.HandoffReason = reason
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hand off conversation: %w", err)
	}

	if updated.Status != model.StatusAvailable {
		return updated, nil
	}

	if _, err := s.convService.appendSystem(ctx, updated, model.SystemMessageHandoff, "Conversation handed off to support team: "+reason); err != nil {
		return nil, err
	}

	metrics.HandoffsTotal.WithLabelValues(handoffReasonLabel(reason)).Inc()
	s.convService.publishStatusChange(ctx, updated, from, reason)
	s.convService.notify(ctx, "", updated, "conversation_available", reason)

	s.logger.Info("conversation handed off",
		zap.String("conversation_id", updated.ID),
		zap.String("company_id", updated.CompanyID),
		zap.String("reason", reason),
	)
	return updated, nil
}

func handoffReasonLabel(reason string) string {
	switch reason {
	case HandoffReasonRateLimit:
		return "rate_limit"
	case HandoffReasonQuota:
		return "quota"
	case HandoffReasonCustomer:
		return "customer_request"
	default:
		return "ai_decision"
	}
}

// RequestHandoff hands a conversation off on the customer's explicit
// request, outside the AI's own decision.
func (s *MessageService) RequestHandoff(ctx context.Context, companyID, conversationID, reason string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, companyID, conversationID)
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if reason == "" {
		reason = HandoffReasonCustomer
	}
	return s.handoff(ctx, conv, reason)
}

// SendAgentMessage appends an agent message. The sender must participate
// in a staff-handled conversation; posting into an available conversation
// claims it implicitly.
func (s *MessageService) SendAgentMessage(ctx context.Context, companyID, agentID, conversationID string, req *model.SendAgentMessageRequest) (*model.SendMessageResponse, error) {
	grant, err := s.access.Check(ctx, agentID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to check access: %w", err)
	}
	if !grant.CanSendAsAgent() {
		return nil, ErrNotAuthorized
	}

	conv, err := s.conversations.GetConversation(ctx, companyID, conversationID)
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	switch conv.Status {
	case model.StatusResolved:
		return nil, ErrConversationResolved
	case model.StatusAIHandling:
		return nil, ErrAIHandled
	case model.StatusAvailable:
		conv, err = s.convService.Claim(ctx, companyID, agentID, req.AgentName, conversationID)
		if err != nil {
			return nil, err
		}
	case model.StatusSupportStaffHandling:
		if !conv.HasAgent(agentID) {
			return nil, ErrNotAuthorized
		}
	}

	now := s.now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		CompanyID:      companyID,
		Role:           model.RoleAgent,
		Content:        req.Content,
		Timestamp:      now,
		AgentID:        agentID,
		AgentName:      req.AgentName,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append agent message: %w", err)
	}

	conv, err = s.conversations.UpdateConversation(ctx, companyID, conv.ID, func(c *model.Conversation) error {
		c.MessageCount++
		c.LastMessageAt = &now
		c.LastAgentMessage = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(companyID, string(model.RoleAgent)).Inc()
	s.convService.publishMessage(ctx, msg)
	if err := s.usage.RecordMessage(ctx, companyID); err != nil {
		s.logger.Warn("failed to record message usage", zap.Error(err))
	}

	return &model.SendMessageResponse{Message: msg, Conversation: conv}, nil
}

// GetMessages retrieves conversation messages in order.
func (s *MessageService) GetMessages(ctx context.Context, companyID, conversationID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	msgs, err := s.messages.ListMessages(ctx, companyID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &model.ListMessagesResponse{
		Messages: msgs,
		HasMore:  len(msgs) == limit,
	}, nil
}

// MarkReadByAgent stamps unread customer messages as read by an agent.
// The patch is idempotent and never touches conversation status.
func (s *MessageService) MarkReadByAgent(ctx context.Context, companyID, agentID, conversationID string) error {
	grant, err := s.access.Check(ctx, agentID, companyID)
	if err != nil {
		return fmt.Errorf("failed to check access: %w", err)
	}
	if !grant.IsAgent() {
		return ErrNotAuthorized
	}
	return s.markRead(ctx, companyID, conversationID, model.RoleCustomer, func(m *model.Message, at time.Time) {
		if m.ReadByAgentAt == nil {
			m.ReadByAgentAt = &at
		}
	})
}

// MarkReadByCustomer stamps unread agent and AI messages as seen by the
// customer.
func (s *MessageService) MarkReadByCustomer(ctx context.Context, companyID, conversationID string) error {
	if err := s.markRead(ctx, companyID, conversationID, model.RoleAgent, func(m *model.Message, at time.Time) {
		if m.ReadByCustomerAt == nil {
			m.ReadByCustomerAt = &at
		}
	}); err != nil {
		return err
	}
	return s.markRead(ctx, companyID, conversationID, model.RoleAI, func(m *model.Message, at time.Time) {
		if m.ReadByCustomerAt == nil {
			m.ReadByCustomerAt = &at
		}
	})
}

func (s *MessageService) markRead(ctx context.Context, companyID, conversationID string, role model.Role, patch func(*model.Message, time.Time)) error {
	msgs, err := s.messages.ListMessages(ctx, companyID, conversationID, 0)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	now := s.now()
	for _, msg := range msgs {
		if msg.Role != role {
			continue
		}
		if err := s.messages.UpdateMessage(ctx, companyID, msg.ID, func(m *model.Message) error {
			patch(m, now)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to patch read marker: %w", err)
		}
	}
	return nil
}
