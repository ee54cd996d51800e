package service

import (
	"errors"
)

var (
	// ErrNotFound is returned when a conversation does not exist or is not
	// visible to the requesting company.
	ErrNotFound = errors.New("conversation not found")

	// ErrNotAuthorized is returned when the caller's grant does not permit
	// the operation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrConversationResolved is returned for agent operations against a
	// resolved conversation.
	ErrConversationResolved = errors.New("conversation is resolved")

	// ErrAIHandled is returned when an agent posts into a conversation the
	// assistant still owns without claiming it first.
	ErrAIHandled = errors.New("conversation is being handled by the assistant")
)
