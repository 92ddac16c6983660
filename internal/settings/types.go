package settings

// Bot modes.
const (
	BotModeAuto   = "auto"
	BotModeShadow = "shadow"
	BotModeOff    = "off"
)

// Default values for organization settings when not set.
const (
	DefaultBotMode                   = BotModeAuto
	DefaultLanguage                  = "auto"
	DefaultLeadExtractionMinMessages = 2
)

// Settings holds organization-level automation settings.
type Settings struct {
	OrganizationID            string   `json:"organization_id"`
	BotMode                   string   `json:"bot_mode"`
	SimilarityThreshold       float64  `json:"similarity_threshold"`
	Language                  string   `json:"language"`
	RequiredIntakeFields      []string `json:"required_intake_fields"`
	FallbackTopics            []string `json:"fallback_topics"`
	LeadExtractionEnabled     bool     `json:"lead_extraction_enabled"`
	LeadExtractionMinMessages int      `json:"lead_extraction_min_messages"`
}
