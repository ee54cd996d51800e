package model

import (
	"time"
)

// LimitType identifies a rate-limited operation class.
type LimitType string

const (
	LimitAIResponse  LimitType = "ai_response"
	LimitUserMessage LimitType = "user_message"
	LimitFileUpload  LimitType = "file_upload"
)

// RateLimitBucket holds the sliding window of request timestamps for one
// "{limitType}:{identifier}" key, plus the hard block issued once the
// window fills up.
type RateLimitBucket struct {
	Key          string      `json:"key"`
	Requests     []time.Time `json:"requests"`
	BlockedUntil *time.Time  `json:"blocked_until,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RateLimitStatus is the read-only view returned by a pre-flight check.
type RateLimitStatus struct {
	Limited      bool       `json:"is_rate_limited"`
	Remaining    int        `json:"remaining_requests"`
	ResetAt      time.Time  `json:"reset_at"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}
