package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskai/support-platform/internal/model"
)

func TestUpdateConversationIsAtomicUnderContention(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.CreateConversation(ctx, &model.Conversation{
		ID:        "conv-1",
		CompanyID: "acme",
		Status:    model.StatusAIHandling,
	}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mem.UpdateConversation(ctx, "acme", "conv-1", func(c *model.Conversation) error {
				c.MessageCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := mem.GetConversation(ctx, "acme", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 100, conv.MessageCount)
}

func TestUpdateConversationRollsBackOnError(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.CreateConversation(ctx, &model.Conversation{
		ID:        "conv-1",
		CompanyID: "acme",
		Status:    model.StatusAIHandling,
	}))

	_, err := mem.UpdateConversation(ctx, "acme", "conv-1", func(c *model.Conversation) error {
		c.Status = model.StatusResolved
		return assert.AnError
	})
	require.Error(t, err)

	conv, err := mem.GetConversation(ctx, "acme", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAIHandling, conv.Status)
}

func TestConversationsAreTenantScoped(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.CreateConversation(ctx, &model.Conversation{
		ID:        "conv-1",
		CompanyID: "acme",
	}))

	_, err := mem.GetConversation(ctx, "globex", "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mem.UpdateConversation(ctx, "globex", "conv-1", func(c *model.Conversation) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestConversationForCustomer(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	require.NoError(t, mem.CreateConversation(ctx, &model.Conversation{
		ID: "conv-old", CompanyID: "acme", CustomerID: "customer-1", CreatedAt: older,
	}))
	require.NoError(t, mem.CreateConversation(ctx, &model.Conversation{
		ID: "conv-new", CompanyID: "acme", CustomerID: "customer-1", CreatedAt: newer,
	}))
	require.NoError(t, mem.CreateConversation(ctx, &model.Conversation{
		ID: "conv-other", CompanyID: "acme", CustomerID: "customer-2", CreatedAt: newer.Add(time.Hour),
	}))

	conv, err := mem.LatestConversationForCustomer(ctx, "acme", "customer-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-new", conv.ID)

	_, err = mem.LatestConversationForCustomer(ctx, "acme", "customer-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesOrdersByTimestampThenSeq(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, mem.AppendMessage(ctx, &model.Message{
			ID: id, ConversationID: "conv-1", CompanyID: "acme",
			Role: model.RoleCustomer, Timestamp: ts,
		}))
	}

	msgs, err := mem.ListMessages(ctx, "acme", "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)
}

func TestListMessagesReturnsTail(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, mem.AppendMessage(ctx, &model.Message{
			ID: id, ConversationID: "conv-1", CompanyID: "acme",
			Role: model.RoleCustomer, Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := mem.ListMessages(ctx, "acme", "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m4", msgs[1].ID)
}

func TestIncrementMonthlyAIResponses(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.PutCompany(ctx, &model.Company{ID: "acme"}))

	n, err := mem.IncrementMonthlyAIResponses(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = mem.IncrementMonthlyAIResponses(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = mem.IncrementMonthlyAIResponses(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
