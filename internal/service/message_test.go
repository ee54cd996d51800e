package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskai/support-platform/internal/llm"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/prompt"
	"github.com/helpdeskai/support-platform/internal/ratelimit"
	"github.com/helpdeskai/support-platform/internal/store"
)

func TestCustomerMessageGetsAIResponse(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "How do I reset my password?",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Conversation)
	assert.Equal(t, model.StatusAIHandling, resp.Conversation.Status)
	assert.False(t, resp.Conversation.AIProcessing)
	assert.Equal(t, 1, env.llm.callCount())

	msgs := env.messages(resp.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleCustomer, msgs[0].Role)
	assert.Equal(t, model.RoleAI, msgs[1].Role)
	assert.Equal(t, "Here is how you fix that.", msgs[1].Content)
	assert.Equal(t, "stub-model", msgs[1].AIModel)
	assert.Equal(t, 30, msgs[1].TokensUsed)
}

func TestConcurrentMessagesTriggerOneAICall(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "first",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID
	require.Equal(t, 1, env.llm.callCount())

	// Slow the provider down so the flag stays held while the burst lands.
	env.llm.delay = 200 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
				Content: "are you there?",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Exactly one of the five acquired the processing flag.
	assert.Equal(t, 2, env.llm.callCount())

	conv, err := env.conv.Get(ctx, "acme", convID)
	require.NoError(t, err)
	assert.False(t, conv.AIProcessing)
}

func TestNoAIResponseWhileStaffHandling(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "help",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID

	_, err = env.conv.Claim(ctx, "acme", "agent-1", "Dana", convID)
	require.NoError(t, err)

	before := env.llm.callCount()
	_, err = env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
		Content: "anyone?",
	})
	require.NoError(t, err)
	assert.Equal(t, before, env.llm.callCount())
}

func TestEscalationToolCallHandsOff(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	env.llm.respond = func(req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return escalationResponse("Customer asked for a human"), nil
	}
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "I want to talk to a real person",
	})
	require.NoError(t, err)

	conv := resp.Conversation
	assert.Equal(t, model.StatusAvailable, conv.Status)
	assert.False(t, conv.AIProcessing)
	assert.Equal(t, "Customer asked for a human", conv.HandoffReason)
	require.NotNil(t, conv.HandoffTriggeredAt)

	handoffs := env.systemMessages(conv.ID, model.SystemMessageHandoff)
	require.Len(t, handoffs, 1)
	assert.Contains(t, handoffs[0].Content, "Customer asked for a human")
}

func TestLLMFailureFallsBackToApology(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	env.llm.respond = func(req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("upstream exploded: 503")
	}
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hello?",
	})
	require.NoError(t, err)

	// The conversation stays with the AI and the flag is released.
	assert.Equal(t, model.StatusAIHandling, resp.Conversation.Status)
	assert.False(t, resp.Conversation.AIProcessing)

	msgs := env.messages(resp.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAI, msgs[1].Role)
	assert.Equal(t, prompt.FallbackApology, msgs[1].Content)
	// The raw provider error never reaches the transcript.
	assert.NotContains(t, msgs[1].Content, "503")
}

func TestRateLimitExhaustionHandsOff(t *testing.T) {
	env := newTestEnv(ratelimit.Config{
		model.LimitAIResponse:  {Window: time.Minute, MaxRequests: 1, BlockDuration: 5 * time.Minute},
		model.LimitUserMessage: {Window: time.Minute, MaxRequests: 30, BlockDuration: 5 * time.Minute},
	})
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "first",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID
	assert.Equal(t, model.StatusAIHandling, resp.Conversation.Status)

	resp, err = env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
		Content: "second",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, resp.Conversation.Status)
	assert.Equal(t, HandoffReasonRateLimit, resp.Conversation.HandoffReason)
	assert.Equal(t, 1, env.llm.callCount())
}

func TestQuotaCheckedBeforeRateLimit(t *testing.T) {
	env := newTestEnv(ratelimit.Config{
		model.LimitAIResponse:  {Window: time.Minute, MaxRequests: 1, BlockDuration: 5 * time.Minute},
		model.LimitUserMessage: {Window: time.Minute, MaxRequests: 30, BlockDuration: 5 * time.Minute},
	})
	// Monthly quota already spent; the window is untouched.
	env.seedCompany(100, 100)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, resp.Conversation.Status)
	assert.Equal(t, HandoffReasonQuota, resp.Conversation.HandoffReason)
	assert.Zero(t, env.llm.callCount())

	// The sliding window was never consumed.
	status, err := env.limiter.Check(ctx, model.LimitAIResponse, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Remaining)
}

func TestQuotaConsumedOnAnswer(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(100, 0)
	ctx := context.Background()

	_, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)

	company, err := env.mem.GetCompany(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, company.AIResponsesThisMonth)
}

func TestResolvedConversationReopensAsNew(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)
	firstID := resp.Conversation.ID

	_, err = env.conv.Claim(ctx, "acme", "agent-1", "Dana", firstID)
	require.NoError(t, err)
	_, err = env.conv.Resolve(ctx, "acme", "agent-1", firstID)
	require.NoError(t, err)

	// Addressing the resolved thread starts a fresh conversation.
	resp, err = env.msg.SendCustomerMessage(ctx, "acme", "customer-1", firstID, &model.SendMessageRequest{
		Content: "it broke again",
	})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, resp.Conversation.ID)
	assert.Equal(t, model.StatusAIHandling, resp.Conversation.Status)

	// The resolved thread is untouched.
	old, err := env.conv.Get(ctx, "acme", firstID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, old.Status)
}

func TestAgentMessageRequiresClaimWhileAIHandling(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)

	_, err = env.msg.SendAgentMessage(ctx, "acme", "agent-1", resp.Conversation.ID, &model.SendAgentMessageRequest{
		Content: "let me jump in",
	})
	assert.ErrorIs(t, err, ErrAIHandled)
}

func TestAgentMessageImplicitlyClaimsAvailable(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	env.llm.respond = func(req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return escalationResponse("needs a human"), nil
	}
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "human please",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusAvailable, resp.Conversation.Status)

	sent, err := env.msg.SendAgentMessage(ctx, "acme", "agent-1", resp.Conversation.ID, &model.SendAgentMessageRequest{
		Content:   "Hi, Dana here.",
		AgentName: "Dana",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSupportStaffHandling, sent.Conversation.Status)
	assert.True(t, sent.Conversation.HasAgent("agent-1"))
	require.NotNil(t, sent.Conversation.LastAgentMessage)
}

func TestAgentMessageRejectedForNonParticipant(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID

	_, err = env.conv.Claim(ctx, "acme", "agent-1", "Dana", convID)
	require.NoError(t, err)

	_, err = env.msg.SendAgentMessage(ctx, "acme", "agent-2", convID, &model.SendAgentMessageRequest{
		Content: "sneaking in",
	})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAgentMessageRejectedWhenResolved(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID

	_, err = env.conv.Claim(ctx, "acme", "agent-1", "Dana", convID)
	require.NoError(t, err)
	_, err = env.conv.Resolve(ctx, "acme", "agent-1", convID)
	require.NoError(t, err)

	_, err = env.msg.SendAgentMessage(ctx, "acme", "agent-1", convID, &model.SendAgentMessageRequest{
		Content: "one more thing",
	})
	assert.ErrorIs(t, err, ErrConversationResolved)
}

func TestCustomerRequestedHandoff(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)

	conv, err := env.msg.RequestHandoff(ctx, "acme", resp.Conversation.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, conv.Status)
	assert.Equal(t, HandoffReasonCustomer, conv.HandoffReason)
}

func TestReadMarkersAreIdempotent(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hi",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID

	require.NoError(t, env.msg.MarkReadByAgent(ctx, "acme", "agent-1", convID))

	msgs := env.messages(convID)
	require.NotEmpty(t, msgs)
	require.NotNil(t, msgs[0].ReadByAgentAt)
	firstRead := *msgs[0].ReadByAgentAt

	// A second pass does not move the timestamp.
	require.NoError(t, env.msg.MarkReadByAgent(ctx, "acme", "agent-1", convID))
	msgs = env.messages(convID)
	assert.Equal(t, firstRead, *msgs[0].ReadByAgentAt)

	require.NoError(t, env.msg.MarkReadByCustomer(ctx, "acme", convID))
	msgs = env.messages(convID)
	for _, m := range msgs {
		if m.Role == model.RoleAI {
			assert.NotNil(t, m.ReadByCustomerAt)
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	// 1. Customer asks a question; the AI answers.
	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "How do I export my data?",
	})
	require.NoError(t, err)
	convID := resp.Conversation.ID
	require.Equal(t, model.StatusAIHandling, resp.Conversation.Status)
	require.Equal(t, 1, env.llm.callCount())

	// 2. Customer asks for a human; the model escalates.
	env.llm.respond = func(req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return escalationResponse("Customer asked for a human"), nil
	}
	resp, err = env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
		Content: "Can I talk to a person?",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusAvailable, resp.Conversation.Status)

	// 3. An agent claims and replies.
	_, err = env.conv.Claim(ctx, "acme", "agent-1", "Dana", convID)
	require.NoError(t, err)
	sent, err := env.msg.SendAgentMessage(ctx, "acme", "agent-1", convID, &model.SendAgentMessageRequest{
		Content:   "Hi, Dana here. Happy to help.",
		AgentName: "Dana",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSupportStaffHandling, sent.Conversation.Status)

	// 4. Further customer messages do not wake the AI.
	callsBefore := env.llm.callCount()
	_, err = env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
		Content: "Thanks Dana!",
	})
	require.NoError(t, err)
	assert.Equal(t, callsBefore, env.llm.callCount())

	// 5. The agent resolves; the thread is closed.
	conv, err := env.conv.Resolve(ctx, "acme", "agent-1", convID)
	require.NoError(t, err)
	require.Equal(t, model.StatusResolved, conv.Status)

	// 6. The customer comes back later; a fresh AI-owned thread starts.
	env.llm.respond = nil
	resp, err = env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
		Content: "New problem today",
	})
	require.NoError(t, err)
	assert.NotEqual(t, convID, resp.Conversation.ID)
	assert.Equal(t, model.StatusAIHandling, resp.Conversation.Status)
}

func TestUserMessageRateLimitBlocksIngestion(t *testing.T) {
	env := newTestEnv(ratelimit.Config{
		model.LimitAIResponse:  {Window: time.Minute, MaxRequests: 10, BlockDuration: 5 * time.Minute},
		model.LimitUserMessage: {Window: time.Minute, MaxRequests: 2, BlockDuration: 5 * time.Minute},
	})
	env.seedCompany(0, 0)
	ctx := context.Background()

	var convID string
	for i := 0; i < 2; i++ {
		resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
			Content: "spam",
		})
		require.NoError(t, err)
		convID = resp.Conversation.ID
	}

	_, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", convID, &model.SendMessageRequest{
		Content: "more spam",
	})
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, model.LimitUserMessage, exceeded.LimitType)

	// Nothing was persisted for the rejected message.
	assert.Len(t, env.messages(convID), 4) // 2 customer + 2 AI
}

// failingBucketStore simulates a bucket-store outage scoped to one limit
// type; other keys pass through to the wrapped store.
type failingBucketStore struct {
	store.RateLimitStore
	failing bool
}

func (f *failingBucketStore) UpdateBucket(ctx context.Context, key string, fn func(*model.RateLimitBucket) error) (*model.RateLimitBucket, error) {
	if f.failing && strings.HasPrefix(key, string(model.LimitAIResponse)+":") {
		return nil, errors.New("connection refused")
	}
	return f.RateLimitStore.UpdateBucket(ctx, key, fn)
}

func TestAISlotReleasedWhenLimiterStoreFails(t *testing.T) {
	buckets := &failingBucketStore{RateLimitStore: store.NewMemory(), failing: true}
	env := newTestEnvWithBuckets(nil, buckets)
	env.seedCompany(0, 0)
	ctx := context.Background()

	_, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "hello?",
	})
	require.Error(t, err)
	assert.Equal(t, 0, env.llm.callCount())

	// The failed attempt must not leave the processing flag stranded.
	conv, err := env.mem.LatestConversationForCustomer(ctx, "acme", "customer-1")
	require.NoError(t, err)
	assert.False(t, conv.AIProcessing)
	assert.Equal(t, model.StatusAIHandling, conv.Status)

	// Once the store recovers, the next message gets an AI answer again.
	buckets.failing = false
	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", conv.ID, &model.SendMessageRequest{
		Content: "hello again",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.llm.callCount())
	assert.False(t, resp.Conversation.AIProcessing)
}

func TestAIMessageLatencyMeasuredWhenProviderOmitsIt(t *testing.T) {
	env := newTestEnv(nil)
	env.seedCompany(0, 0)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.msg.WithClock(func() time.Time { return now })
	env.llm.respond = func(req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		now = now.Add(1200 * time.Millisecond)
		return &llm.CompletionResponse{Content: "done", Model: "stub-model"}, nil
	}

	resp, err := env.msg.SendCustomerMessage(ctx, "acme", "customer-1", "", &model.SendMessageRequest{
		Content: "how long does this take?",
	})
	require.NoError(t, err)

	msgs := env.messages(resp.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.EqualValues(t, 1200, msgs[1].ProcessingTimeMs)
}
