// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
)

// EscalateToolName is the tool exposed to the model for handing a
// conversation off to a human agent.
const EscalateToolName = "escalate_to_human"

// Tool describes a function the model may invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// EscalationTool returns the escalate_to_human tool definition.
func EscalationTool() Tool {
	return Tool{
		Name:        EscalateToolName,
		Description: "Hand this conversation off to a human support agent. Use when the customer asks for a human, when you cannot answer, or when any escalation rule applies.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Short explanation of why a human is needed",
				},
			},
			"required": []string{"reason"},
		},
	}
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Tools       []Tool
}

// ToolCall is a tool invocation returned by the model.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Reason extracts the "reason" argument, if present.
func (t *ToolCall) Reason() string {
	var args struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(t.Arguments, &args); err != nil {
		return ""
	}
	return args.Reason
}

// CompletionResponse represents a completion response. ToolCall is set when
// the model invoked a tool; Content may accompany it. A provider error is
// returned as an error, never folded into the response, so callers can
// tell "escalating" apart from "failed".
type CompletionResponse struct {
	Content    string
	ToolCall   *ToolCall
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
