package model

import (
	"time"
)

// EventType represents the type of conversation event published to the
// live feed. Consumers must treat unknown types as EventTypeUnknown.
type EventType string

const (
	EventMessageCreated  EventType = "message_created"
	EventStatusChanged   EventType = "status_changed"
	EventPresenceChanged EventType = "presence_changed"
	EventTypeUnknown     EventType = "unknown"
)

// ConversationEvent is one entry in the append-only conversation event feed.
// Exactly one of the payload pointers is set, matching Type; unmatched or
// missing payloads are handled as the unknown variant.
type ConversationEvent struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"company_id"`
	ConversationID string    `json:"conversation_id"`
	Type           EventType `json:"type"`
	CreatedAt      time.Time `json:"created_at"`

	Message  *Message             `json:"message,omitempty"`
	Status   *StatusChangePayload `json:"status,omitempty"`
	Presence *Presence            `json:"presence,omitempty"`

	// Sequence is populated on read from the stream.
	Sequence uint64 `json:"sequence,omitempty"`
}

// StatusChangePayload describes a conversation status transition.
type StatusChangePayload struct {
	From   Status `json:"from"`
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Kind normalizes the event type, folding unrecognized values into the
// unknown variant.
func (e *ConversationEvent) Kind() EventType {
	switch e.Type {
	case EventMessageCreated, EventStatusChanged, EventPresenceChanged:
		return e.Type
	default:
		return EventTypeUnknown
	}
}

// Notification is the best-effort payload handed to the notifier when an
// agent should look at a conversation.
type Notification struct {
	UserID         string    `json:"user_id"`
	CompanyID      string    `json:"company_id"`
	ConversationID string    `json:"conversation_id"`
	Kind           string    `json:"kind"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
