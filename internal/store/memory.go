package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helpdeskai/support-platform/internal/model"
)

// Memory is a mutex-guarded in-memory implementation of every store
// interface. Update callbacks run under the store lock, which gives the
// single-record atomicity the conversation engine depends on.
type Memory struct {
	mu sync.Mutex

	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message // conversation id -> ordered messages
	messageIndex  map[string]*model.Message   // message id -> message
	seq           map[string]uint64           // conversation id -> next insertion seq

	presence map[string]*model.Presence
	buckets  map[string]*model.RateLimitBucket

	hourly    map[string]*model.UsageCounter // companyID|hour
	daily     map[string]*model.UsageCounter // companyID|day
	companies map[string]*model.Company
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]*model.Message),
		messageIndex:  make(map[string]*model.Message),
		seq:           make(map[string]uint64),
		presence:      make(map[string]*model.Presence),
		buckets:       make(map[string]*model.RateLimitBucket),
		hourly:        make(map[string]*model.UsageCounter),
		daily:         make(map[string]*model.UsageCounter),
		companies:     make(map[string]*model.Company),
	}
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.ParticipatingAgents = append([]string(nil), c.ParticipatingAgents...)
	return &out
}

// CreateConversation stores a new conversation.
func (m *Memory) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// GetConversation returns a conversation scoped to the company.
func (m *Memory) GetConversation(ctx context.Context, companyID, conversationID string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok || conv.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// UpdateConversation applies fn atomically against the stored record.
func (m *Memory) UpdateConversation(ctx context.Context, companyID, conversationID string, fn func(*model.Conversation) error) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok || conv.CompanyID != companyID {
		return nil, ErrNotFound
	}
	working := cloneConversation(conv)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now()
	m.conversations[conversationID] = working
	return cloneConversation(working), nil
}

// ListConversations returns company conversations, most recent activity first.
func (m *Memory) ListConversations(ctx context.Context, companyID string, statuses []model.Status, limit, offset int) ([]model.Conversation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[model.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var convs []model.Conversation
	for _, conv := range m.conversations {
		if conv.CompanyID != companyID {
			continue
		}
		if len(wanted) > 0 && !wanted[conv.Status] {
			continue
		}
		convs = append(convs, *cloneConversation(conv))
	}

	sort.Slice(convs, func(i, j int) bool {
		ti, tj := convs[i].UpdatedAt, convs[j].UpdatedAt
		if li := convs[i].LastMessageAt; li != nil {
			ti = *li
		}
		if lj := convs[j].LastMessageAt; lj != nil {
			tj = *lj
		}
		return ti.After(tj)
	})

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}

	return convs[start:end], total, nil
}

// LatestConversationForCustomer returns the customer's most recent conversation.
func (m *Memory) LatestConversationForCustomer(ctx context.Context, companyID, customerID string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *model.Conversation
	for _, conv := range m.conversations {
		if conv.CompanyID != companyID || conv.CustomerID != customerID {
			continue
		}
		if latest == nil || conv.CreatedAt.After(latest.CreatedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneConversation(latest), nil
}

// AppendMessage stores a message and assigns its insertion sequence.
func (m *Memory) AppendMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq[msg.ConversationID]++
	msg.Seq = m.seq[msg.ConversationID]

	stored := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	m.messageIndex[msg.ID] = &stored
	return nil
}

// ListMessages returns conversation messages ordered by timestamp with
// insertion sequence as the tie-break.
func (m *Memory) ListMessages(ctx context.Context, companyID, conversationID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.messages[conversationID]
	out := make([]model.Message, 0, len(stored))
	for _, msg := range stored {
		if msg.CompanyID != companyID {
			continue
		}
		out = append(out, *msg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// UpdateMessage applies fn to a stored message. Used only for read-marker
// patches; content is immutable by convention.
func (m *Memory) UpdateMessage(ctx context.Context, companyID, messageID string, fn func(*model.Message) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messageIndex[messageID]
	if !ok || msg.CompanyID != companyID {
		return ErrNotFound
	}
	return fn(msg)
}

// UpsertPresence stores a presence record.
func (m *Memory) UpsertPresence(ctx context.Context, p *model.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *p
	m.presence[p.UserID] = &stored
	return nil
}

// GetPresence returns the presence record for a user.
func (m *Memory) GetPresence(ctx context.Context, userID string) (*model.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// ListPresenceByCompany returns all presence records for a company,
// including expired ones; callers filter by ExpiresAt.
func (m *Memory) ListPresenceByCompany(ctx context.Context, companyID string) ([]model.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Presence
	for _, p := range m.presence {
		if p.CompanyID == companyID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// DeleteExpiredPresence removes up to limit expired records.
func (m *Memory) DeleteExpiredPresence(ctx context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for userID, p := range m.presence {
		if limit > 0 && deleted >= limit {
			break
		}
		if !p.ExpiresAt.After(now) {
			delete(m.presence, userID)
			deleted++
		}
	}
	return deleted, nil
}

// GetBucket returns a rate-limit bucket, or ErrNotFound.
func (m *Memory) GetBucket(ctx context.Context, key string) (*model.RateLimitBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	out.Requests = append([]time.Time(nil), b.Requests...)
	return &out, nil
}

// UpdateBucket applies fn atomically against the current bucket value.
func (m *Memory) UpdateBucket(ctx context.Context, key string, fn func(*model.RateLimitBucket) error) (*model.RateLimitBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := &model.RateLimitBucket{Key: key}
	if b, ok := m.buckets[key]; ok {
		copied := *b
		copied.Requests = append([]time.Time(nil), b.Requests...)
		working = &copied
	}

	if err := fn(working); err != nil {
		return nil, err
	}

	m.buckets[key] = working

	out := *working
	out.Requests = append([]time.Time(nil), working.Requests...)
	return &out, nil
}

// SweepBuckets deletes buckets untouched since before the cutoff.
func (m *Memory) SweepBuckets(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, b := range m.buckets {
		if b.UpdatedAt.Before(cutoff) {
			delete(m.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}

func usageKey(companyID string, t time.Time) string {
	return companyID + "|" + t.UTC().Format(time.RFC3339)
}

// IncrementHourlyUsage bumps the hourly counter row for a company.
func (m *Memory) IncrementHourlyUsage(ctx context.Context, companyID string, hour time.Time, aiResponses, messages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hour = hour.UTC().Truncate(time.Hour)
	key := usageKey(companyID, hour)
	row, ok := m.hourly[key]
	if !ok {
		row = &model.UsageCounter{
			CompanyID:   companyID,
			Period:      model.UsageHourly,
			PeriodStart: hour,
		}
		m.hourly[key] = row
	}
	row.AIResponses += aiResponses
	row.Messages += messages
	return nil
}

// FoldHourlyIntoDaily sums one company-day of hourly rows into the daily
// row and deletes them under the same lock.
func (m *Memory) FoldHourlyIntoDaily(ctx context.Context, companyID string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	day = day.UTC().Truncate(24 * time.Hour)
	dayEnd := day.Add(24 * time.Hour)

	var aiResponses, messages int
	var consumed []string
	for key, row := range m.hourly {
		if row.CompanyID != companyID {
			continue
		}
		if row.PeriodStart.Before(day) || !row.PeriodStart.Before(dayEnd) {
			continue
		}
		aiResponses += row.AIResponses
		messages += row.Messages
		consumed = append(consumed, key)
	}
	if len(consumed) == 0 {
		return nil
	}

	dailyKey := usageKey(companyID, day)
	row, ok := m.daily[dailyKey]
	if !ok {
		row = &model.UsageCounter{
			CompanyID:   companyID,
			Period:      model.UsageDaily,
			PeriodStart: day,
		}
		m.daily[dailyKey] = row
	}
	row.AIResponses += aiResponses
	row.Messages += messages

	for _, key := range consumed {
		delete(m.hourly, key)
	}
	return nil
}

// CompaniesWithHourlyUsage lists companies that have unfolded hourly rows.
func (m *Memory) CompaniesWithHourlyUsage(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, row := range m.hourly {
		if !seen[row.CompanyID] {
			seen[row.CompanyID] = true
			out = append(out, row.CompanyID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// HourlyDays lists the distinct UTC days covered by a company's hourly rows.
func (m *Memory) HourlyDays(ctx context.Context, companyID string) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, row := range m.hourly {
		if row.CompanyID != companyID {
			continue
		}
		day := row.PeriodStart.UTC().Truncate(24 * time.Hour)
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// GetUsage returns one counter row.
func (m *Memory) GetUsage(ctx context.Context, companyID string, period model.UsagePeriod, start time.Time) (*model.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var row *model.UsageCounter
	switch period {
	case model.UsageHourly:
		row = m.hourly[usageKey(companyID, start.UTC().Truncate(time.Hour))]
	case model.UsageDaily:
		row = m.daily[usageKey(companyID, start.UTC().Truncate(24*time.Hour))]
	}
	if row == nil {
		return nil, ErrNotFound
	}
	out := *row
	return &out, nil
}

// PruneUsage deletes daily rows older than dailyBefore and hourly rows
// older than hourlyBefore.
func (m *Memory) PruneUsage(ctx context.Context, dailyBefore, hourlyBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, row := range m.daily {
		if row.PeriodStart.Before(dailyBefore) {
			delete(m.daily, key)
			deleted++
		}
	}
	for key, row := range m.hourly {
		if row.PeriodStart.Before(hourlyBefore) {
			delete(m.hourly, key)
			deleted++
		}
	}
	return deleted, nil
}

// GetCompany returns a company record.
func (m *Memory) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[companyID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	out.AISettings.HandoffTriggers = append([]string(nil), c.AISettings.HandoffTriggers...)
	return &out, nil
}

// PutCompany stores a company record.
func (m *Memory) PutCompany(ctx context.Context, company *model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *company
	m.companies[company.ID] = &stored
	return nil
}

// IncrementMonthlyAIResponses bumps the monthly plan counter.
func (m *Memory) IncrementMonthlyAIResponses(ctx context.Context, companyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[companyID]
	if !ok {
		return 0, ErrNotFound
	}
	c.AIResponsesThisMonth++
	return c.AIResponsesThisMonth, nil
}
