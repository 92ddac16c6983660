package policy

import (
	"testing"

	"github.com/memohai/switchboard/internal/settings"
)

func TestResolveBotModeAction(t *testing.T) {
	tests := []struct {
		mode  string
		allow bool
	}{
		{settings.BotModeAuto, true},
		{"", true},
		{" AUTO ", true},
		{settings.BotModeShadow, false},
		{settings.BotModeOff, false},
		{"paused", false},
	}
	for _, tt := range tests {
		got := ResolveBotModeAction(settings.Settings{BotMode: tt.mode})
		if got.AllowReplies != tt.allow {
			t.Errorf("mode %q: AllowReplies = %v, want %v", tt.mode, got.AllowReplies, tt.allow)
		}
	}
}
