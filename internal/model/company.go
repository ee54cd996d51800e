package model

// AISettings is the per-company AI configuration consumed by the prompt
// builder and the conversation engine. Owned by the settings surface,
// read-only here.
type AISettings struct {
	Personality        string   `json:"ai_personality"`
	ResponseLength     string   `json:"ai_response_length"`
	SystemInstructions string   `json:"ai_system_prompt"`
	HandoffTriggers    []string `json:"ai_handoff_triggers"`
	CompanyContext     string   `json:"company_context_processed"`
	SelectedModel      string   `json:"selected_ai_model"`
}

// Company holds the slice of company state the engine needs.
type Company struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AISettings AISettings `json:"ai_settings"`

	// Monthly plan quota for AI responses. Zero limit means unlimited.
	AIResponsesPerMonth  int `json:"ai_responses_per_month"`
	AIResponsesThisMonth int `json:"ai_responses_this_month"`
}
