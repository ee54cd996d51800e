// Package model defines data structures for the support platform.
package model

import (
	"time"
)

// Status represents who currently owns a conversation.
type Status string

const (
	// StatusAIHandling means the AI bot answers inbound customer messages.
	StatusAIHandling Status = "ai_handling"
	// StatusAvailable means the conversation sits in the agent queue after a handoff.
	StatusAvailable Status = "available"
	// StatusSupportStaffHandling means one or more human agents own the conversation.
	StatusSupportStaffHandling Status = "support_staff_handling"
	// StatusResolved means an agent closed the conversation.
	StatusResolved Status = "resolved"
)

// Conversation represents a customer support conversation thread.
type Conversation struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	CustomerID string `json:"customer_id"`

	Status Status `json:"status"`

	// ParticipatingAgents is empty for ai_handling/available and non-empty
	// for support_staff_handling.
	ParticipatingAgents []string `json:"participating_agents,omitempty"`

	// AIProcessing is true exactly while an AI completion is in flight.
	// It is the cooperative mutual-exclusion flag for the AI call path.
	AIProcessing bool `json:"ai_processing"`

	HandoffTriggeredAt *time.Time `json:"handoff_triggered_at,omitempty"`
	HandoffReason      string     `json:"handoff_reason,omitempty"`

	MessageCount     int        `json:"message_count"`
	FirstMessageAt   *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	LastAgentMessage *time.Time `json:"last_agent_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAgent reports whether the given agent participates in the conversation.
func (c *Conversation) HasAgent(agentID string) bool {
	for _, id := range c.ParticipatingAgents {
		if id == agentID {
			return true
		}
	}
	return false
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
