package models

// SuggestionMode selects how the chat input area behaves.
type SuggestionMode string

const (
	// SuggestionModeInput is the default free-text input mode.
	SuggestionModeInput SuggestionMode = "input"
	// SuggestionModeMCQ turns typed text into a search-style lookup of
	// matching options instead of free-form sending.
	SuggestionModeMCQ SuggestionMode = "mcq"
)

// InputField describes one structured field the backend asked the user to
// fill in place of free-text input (e.g. zip code, phone).
type InputField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// IntelligentOptions is the decoded response of intelligent option
// generation: either plain button options or structured input fields.
type IntelligentOptions struct {
	Options     []string     `json:"options,omitempty"`
	InputFields []InputField `json:"input_fields,omitempty"`
	OptionType  string       `json:"option_type,omitempty"`
}

// SuggestionState is the derived UI state the engine exposes. The three
// suggestion kinds are mutually exclusive; UploadRequired suppresses all of
// them in favor of a dedicated upload affordance.
type SuggestionState struct {
	Mode                  SuggestionMode `json:"mode"`
	QuickReplies          []string       `json:"quick_replies,omitempty"`
	MCQResults            []string       `json:"mcq_results,omitempty"`
	IntelligentOptions    []string       `json:"intelligent_options,omitempty"`
	IntelligentFields     []InputField   `json:"intelligent_input_fields,omitempty"`
	UploadRequired        bool           `json:"upload_required,omitempty"`
	Loading               bool           `json:"loading"`
	GeneratedForMessageID int64          `json:"generated_for_message_id,omitempty"`
}
