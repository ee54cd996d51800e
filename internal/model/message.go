package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAI       Role = "ai"
	RoleAgent    Role = "agent"
	RoleSystem   Role = "system"
)

// SystemMessageType tags a system message with the lifecycle event it records.
type SystemMessageType string

const (
	SystemMessageHandoff       SystemMessageType = "handoff"
	SystemMessageAgentJoined   SystemMessageType = "agent_joined"
	SystemMessageIssueResolved SystemMessageType = "issue_resolved"
)

// DeliveryStatus is the customer-visible delivery state of a message.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliverySeen      DeliveryStatus = "seen"
)

// Message represents a conversation message. Messages are immutable once
// written except for the read-marker patches.
type Message struct {
	// Identity. CompanyID is denormalized for multi-tenant query scoping.
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	CompanyID      string `json:"company_id"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	Timestamp time.Time `json:"timestamp"`

	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`

	// Read markers, independently settable.
	ReadByAgentAt    *time.Time `json:"read_by_agent_at,omitempty"`
	ReadByCustomerAt *time.Time `json:"read_by_customer_at,omitempty"`

	// AI metadata (ai role only).
	AIModel          string `json:"ai_model,omitempty"`
	TokensUsed       int    `json:"tokens_used,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`

	// Agent metadata (agent role only), denormalized at write time.
	AgentID   string `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`

	// System metadata (system role only).
	SystemMessageType SystemMessageType `json:"system_message_type,omitempty"`

	// Insertion order within the conversation, assigned by the store.
	// Breaks timestamp ties.
	Seq uint64 `json:"seq,omitempty"`
}

// Delivery computes the delivery status of an agent/AI message as seen by
// the customer side.
func (m *Message) Delivery() DeliveryStatus {
	if m.ReadByCustomerAt != nil {
		return DeliverySeen
	}
	return DeliveryDelivered
}

// SendMessageRequest is the request to send a new customer message.
type SendMessageRequest struct {
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
}

// SendAgentMessageRequest is the request to send a message as an agent.
type SendAgentMessageRequest struct {
	Content   string `json:"content"`
	AgentName string `json:"agent_name,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message      *Message      `json:"message"`
	Conversation *Conversation `json:"conversation"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
