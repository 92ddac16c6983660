// Package policy maps organization settings to automation permissions.
package policy

import (
	"strings"

	"github.com/memohai/switchboard/internal/settings"
)

// BotModeAction says what the bot may do for an organization.
type BotModeAction struct {
	Mode         string
	AllowReplies bool
}

// ResolveBotModeAction resolves the bot-mode setting: auto replies, shadow and off only record.
func ResolveBotModeAction(s settings.Settings) BotModeAction {
	mode := strings.ToLower(strings.TrimSpace(s.BotMode))
	if mode == "" {
		mode = settings.DefaultBotMode
	}
	return BotModeAction{
		Mode:         mode,
		AllowReplies: mode == settings.BotModeAuto,
	}
}
