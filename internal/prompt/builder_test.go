package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskai/support-platform/internal/model"
)

func TestBuildIsDeterministic(t *testing.T) {
	settings := model.AISettings{
		Personality:        "friendly",
		ResponseLength:     "brief",
		SystemInstructions: "Always greet by name.",
		HandoffTriggers:    []string{"order over $500", "legal threats"},
		CompanyContext:     "Acme sells industrial widgets in three sizes.",
	}

	first := Build(settings)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(settings))
	}
}

func TestBuildContainsDeflectionSentenceVerbatim(t *testing.T) {
	out := Build(model.AISettings{CompanyContext: "We sell shoes."})
	assert.Contains(t, out, DeflectionSentence)

	// Without a knowledge base the deflection instruction must still appear.
	out = Build(model.AISettings{})
	assert.Contains(t, out, DeflectionSentence)
	assert.Contains(t, out, "No company knowledge base has been provided")
}

func TestBuildContextPreviewTruncation(t *testing.T) {
	long := strings.Repeat("a", 500)
	out := Build(model.AISettings{CompanyContext: long})

	preview := strings.Repeat("a", 200)
	assert.Contains(t, out, "It begins: \""+preview+"\".")
	assert.NotContains(t, out, "It begins: \""+strings.Repeat("a", 201))

	// The full context still appears in the knowledge base section.
	assert.Contains(t, out, "COMPANY KNOWLEDGE BASE:\n"+long)
}

func TestBuildContextPreviewKeepsMultibyteRunesIntact(t *testing.T) {
	long := strings.Repeat("€", 300)
	out := Build(model.AISettings{CompanyContext: long})

	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "It begins: \""+strings.Repeat("€", 200)+"\".")
	assert.NotContains(t, out, "It begins: \""+strings.Repeat("€", 201))
}

func TestBuildShortContextNotTruncated(t *testing.T) {
	out := Build(model.AISettings{CompanyContext: "short context"})
	assert.Contains(t, out, "It begins: \"short context\".")
}

func TestBuildDefaultsForUnknownSettings(t *testing.T) {
	out := Build(model.AISettings{Personality: "sarcastic", ResponseLength: "epic"})
	assert.Contains(t, out, "PERSONALITY: Professional")
	assert.Contains(t, out, "RESPONSE LENGTH: Medium")
}

func TestBuildOmitsCustomTriggerSectionWhenEmpty(t *testing.T) {
	out := Build(model.AISettings{})
	assert.NotContains(t, out, "company-defined triggers")

	out = Build(model.AISettings{HandoffTriggers: []string{"refund over $100"}})
	assert.Contains(t, out, "company-defined triggers")
	assert.Contains(t, out, "- refund over $100\n")
}

func TestBuildAlwaysEscalateRulesPresent(t *testing.T) {
	out := Build(model.AISettings{})
	assert.Contains(t, out, "escalate_to_human")
	assert.Contains(t, out, "billing, refunds, or subscription cancellation")
	assert.Contains(t, out, "asks for a human")
}

func TestBuildHistoryRoleMapping(t *testing.T) {
	history := BuildHistory([]model.Message{
		{Role: model.RoleCustomer, Content: "My sync is broken"},
		{Role: model.RoleAI, Content: "Let me check that for you."},
		{Role: model.RoleSystem, Content: "Conversation handed off to support team"},
		{Role: model.RoleAgent, AgentName: "Dana", Content: "I've reset your sync."},
		{Role: model.RoleCustomer, Content: "Thanks!"},
	})

	require.Len(t, history, 4)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "My sync is broken", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "assistant", history[2].Role)
	assert.Equal(t, "[Dana]: I've reset your sync.", history[2].Content)
	assert.Equal(t, "user", history[3].Role)
}

func TestBuildHistoryAgentWithoutName(t *testing.T) {
	history := BuildHistory([]model.Message{
		{Role: model.RoleAgent, Content: "hello"},
	})
	require.Len(t, history, 1)
	assert.Equal(t, "[Support Agent]: hello", history[0].Content)
}

func TestBuildHistoryEmpty(t *testing.T) {
	assert.Empty(t, BuildHistory(nil))
}
