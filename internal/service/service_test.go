package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/helpdeskai/support-platform/internal/access"
	"github.com/helpdeskai/support-platform/internal/billing"
	"github.com/helpdeskai/support-platform/internal/events"
	"github.com/helpdeskai/support-platform/internal/llm"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/ratelimit"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/internal/usage"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// stubLLM is a scriptable provider that counts invocations.
type stubLLM struct {
	calls   int32
	respond func(req *llm.CompletionRequest) (*llm.CompletionResponse, error)
	delay   time.Duration
}

func (s *stubLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.respond != nil {
		return s.respond(req)
	}
	return &llm.CompletionResponse{
		Content:   "Here is how you fix that.",
		Model:     "stub-model",
		TokensIn:  10,
		TokensOut: 20,
	}, nil
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Models() []string { return []string{"stub-model"} }

func (s *stubLLM) callCount() int { return int(atomic.LoadInt32(&s.calls)) }

func escalationResponse(reason string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Model: "stub-model",
		ToolCall: &llm.ToolCall{
			Name:      llm.EscalateToolName,
			Arguments: []byte(`{"reason":"` + reason + `"}`),
		},
	}
}

type testEnv struct {
	mem     *store.Memory
	llm     *stubLLM
	limiter *ratelimit.Limiter
	conv    *ConversationService
	msg     *MessageService
}

func newTestEnv(limits ratelimit.Config) *testEnv {
	return newTestEnvWithBuckets(limits, nil)
}

func newTestEnvWithBuckets(limits ratelimit.Config, buckets store.RateLimitStore) *testEnv {
	mem := store.NewMemory()
	log := logger.NewNop()

	checker := access.Static{
		"agent-1:acme":    {HasAccess: true, Role: access.RoleSupport},
		"agent-2:acme":    {HasAccess: true, Role: access.RoleSupport},
		"customer-1:acme": {HasAccess: true, Role: access.RoleCustomer},
	}

	if limits == nil {
		limits = ratelimit.DefaultConfig()
	}
	if buckets == nil {
		buckets = mem
	}
	limiter := ratelimit.New(buckets, limits, log)
	stub := &stubLLM{}

	conv := NewConversationService(mem, mem, checker, events.NopPublisher{}, events.NopNotifier{}, log)
	msg := NewMessageService(MessageDeps{
		Conversations: mem,
		Messages:      mem,
		Companies:     mem,
		ConvService:   conv,
		Limiter:       limiter,
		Plans:         billing.NewStorePlans(mem),
		LLM:           stub,
		Usage:         usage.New(mem, 0, 0, log),
		Publisher:     events.NopPublisher{},
		Notifier:      events.NopNotifier{},
		Access:        checker,
		Logger:        log,
		LLMTimeout:    5 * time.Second,
	})

	return &testEnv{mem: mem, llm: stub, limiter: limiter, conv: conv, msg: msg}
}

func (e *testEnv) seedCompany(monthlyLimit, monthlyUsed int) {
	e.mem.PutCompany(context.Background(), &model.Company{
		ID:   "acme",
		Name: "Acme",
		AISettings: model.AISettings{
			Personality:    "professional",
			ResponseLength: "medium",
			SelectedModel:  "stub-model",
		},
		AIResponsesPerMonth:  monthlyLimit,
		AIResponsesThisMonth: monthlyUsed,
	})
}

func (e *testEnv) messages(conversationID string) []model.Message {
	msgs, _ := e.mem.ListMessages(context.Background(), "acme", conversationID, 0)
	return msgs
}

func (e *testEnv) systemMessages(conversationID string, msgType model.SystemMessageType) []model.Message {
	var out []model.Message
	for _, m := range e.messages(conversationID) {
		if m.Role == model.RoleSystem && m.SystemMessageType == msgType {
			out = append(out, m)
		}
	}
	return out
}
