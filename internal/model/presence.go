package model

import (
	"time"
)

// Presence is a short-lived activity record for a user, renewed by client
// heartbeats and reaped once ExpiresAt passes.
type Presence struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	UserRole  string `json:"user_role"`

	IsTyping             bool       `json:"is_typing"`
	TypingInConversation string     `json:"typing_in_conversation,omitempty"`
	TypingStartedAt      *time.Time `json:"typing_started_at,omitempty"`

	ViewingConversation string `json:"viewing_conversation,omitempty"`

	HeartbeatAt time.Time `json:"heartbeat_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Active reports whether the record has not yet expired.
func (p *Presence) Active(now time.Time) bool {
	return p.ExpiresAt.After(now)
}
