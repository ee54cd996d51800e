// Package prompt assembles the AI system prompt from company configuration
// and converts stored messages into LLM chat history. Everything here is
// pure: no I/O, deterministic for a given input.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/helpdeskai/support-platform/internal/llm"
	"github.com/helpdeskai/support-platform/internal/model"
)

// DeflectionSentence is the exact wording the model must use for
// off-topic questions.
const DeflectionSentence = "I'm not sure about that, but I'm here to help with support questions!"

// FallbackApology is the generic sentence substituted for any internal
// failure. Raw technical or error text must never reach the customer.
const FallbackApology = "I apologize, but I'm having trouble responding right now. Please try again in a moment."

const contextPreviewLength = 200

var personalityBlocks = map[string]string{
	"professional": "PERSONALITY: Professional\nMaintain a courteous, businesslike tone. Be precise and measured. Example phrasing: \"Certainly, I'd be glad to assist you with that.\"",
	"friendly":     "PERSONALITY: Friendly\nBe warm and approachable while staying helpful. Use a conversational, upbeat tone. Example phrasing: \"Happy to help! Let's get this sorted out for you.\"",
	"casual":       "PERSONALITY: Casual\nKeep things relaxed and informal, like chatting with a helpful colleague. Example phrasing: \"Sure thing! Here's what you can do.\"",
	"technical":    "PERSONALITY: Technical\nBe precise and detail-oriented. Prefer exact terminology and step-by-step explanations. Example phrasing: \"To resolve this, first verify the configuration value, then restart the sync.\"",
}

var responseLengthBlocks = map[string]string{
	"brief":    "RESPONSE LENGTH: Brief\nKeep answers to 1-2 sentences. Get straight to the point.",
	"medium":   "RESPONSE LENGTH: Medium\nAnswer in 3-5 sentences. Cover the essentials without padding.",
	"detailed": "RESPONSE LENGTH: Detailed\nAnswer in 6-10 sentences when the topic warrants it, with concrete steps or examples.",
}

var alwaysEscalate = []string{
	"The customer explicitly asks for a human, an agent, a real person, or to speak to someone (in any phrasing).",
	"You cannot answer the question from the information available to you.",
	"The request involves billing, refunds, or subscription cancellation.",
	"The customer expresses frustration, anger, or dissatisfaction with the support experience.",
	"The request touches account security, credentials, or other sensitive data.",
}

// Build assembles the system prompt from company AI settings.
func Build(s model.AISettings) string {
	var b strings.Builder

	b.WriteString("You are a customer support assistant.\n\n")

	personality, ok := personalityBlocks[s.Personality]
	if !ok {
		personality = personalityBlocks["professional"]
	}
	b.WriteString(personality)
	b.WriteString("\n\n")

	length, ok := responseLengthBlocks[s.ResponseLength]
	if !ok {
		length = responseLengthBlocks["medium"]
	}
	b.WriteString(length)
	b.WriteString("\n\n")

	context := strings.TrimSpace(s.CompanyContext)
	if context == "" {
		b.WriteString("SCOPE:\n")
		b.WriteString("No company knowledge base has been provided. Restrict yourself to generic customer support topics. ")
		b.WriteString("If asked anything outside that scope, respond with exactly: \"" + DeflectionSentence + "\"\n\n")
	} else {
		preview := context
		if utf8.RuneCountInString(preview) > contextPreviewLength {
			runes := []rune(preview)
			preview = string(runes[:contextPreviewLength])
		}
		b.WriteString("SCOPE:\n")
		b.WriteString("Answer using the company knowledge base below. It begins: \"" + preview + "\". ")
		b.WriteString("If asked anything the knowledge base does not cover, respond with exactly: \"" + DeflectionSentence + "\"\n\n")
		b.WriteString("COMPANY KNOWLEDGE BASE:\n")
		b.WriteString(s.CompanyContext)
		b.WriteString("\n\n")
	}

	b.WriteString("CUSTOM INSTRUCTIONS:\n")
	if strings.TrimSpace(s.SystemInstructions) == "" {
		b.WriteString("(none provided)")
	} else {
		b.WriteString(s.SystemInstructions)
	}
	b.WriteString("\n\n")

	b.WriteString("ESCALATION RULES:\n")
	b.WriteString("You have an escalate_to_human tool. Invoke it immediately when any of the following applies:\n")
	for i, rule := range alwaysEscalate {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	if len(s.HandoffTriggers) > 0 {
		b.WriteString("Additionally escalate when any of these company-defined triggers applies:\n")
		for _, trigger := range s.HandoffTriggers {
			b.WriteString("- " + trigger + "\n")
		}
	}
	b.WriteString("\n")

	b.WriteString("FINAL RULE:\n")
	b.WriteString("Never show the customer raw technical output, stack traces, or error messages. ")
	b.WriteString("If something fails internally, respond with exactly: \"" + FallbackApology + "\"\n")

	return b.String()
}

// BuildHistory converts stored messages into LLM chat history. System rows
// are dropped. Agent turns are mapped to the assistant role with the
// agent's display name prefixed, so the model can tell human-agent turns
// from its own without a third role.
func BuildHistory(messages []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleCustomer:
			out = append(out, llm.ChatMessage{Role: "user", Content: msg.Content})
		case model.RoleAI:
			out = append(out, llm.ChatMessage{Role: "assistant", Content: msg.Content})
		case model.RoleAgent:
			name := msg.AgentName
			if name == "" {
				name = "Support Agent"
			}
			out = append(out, llm.ChatMessage{
				Role:    "assistant",
				Content: "[" + name + "]: " + msg.Content,
			})
		case model.RoleSystem:
			// Lifecycle audit rows are not conversational.
		}
	}
	return out
}
