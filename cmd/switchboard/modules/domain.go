package modules

import (
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/channel/adapters/telegram"
	"github.com/memohai/switchboard/internal/channel/adapters/whatsapp"
	"github.com/memohai/switchboard/internal/config"
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/db"
	"github.com/memohai/switchboard/internal/inbox"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/settings"
	"github.com/memohai/switchboard/internal/skills"
)

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		fx.Annotate(conversation.NewDBStore, fx.As(new(conversation.Store))),
		conversation.NewResolver,
		conversation.NewService,
		message.NewService,
		inbox.NewService,
		provideSettingsService,
		skills.NewStore,
	),
)

var ChannelModule = fx.Module(
	"channel",
	fx.Provide(
		provideChannelRegistry,
		channel.NewDBAccountStore,
	),
)

// ---------------------------------------------------------------------------
// domain service providers (config extraction)
// ---------------------------------------------------------------------------

func provideSettingsService(log *slog.Logger, conn db.DBTX, cfg config.Config) *settings.Service {
	return settings.NewService(log, conn, cfg.Pipeline.DefaultSimilarityThreshold)
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	timeout := time.Duration(cfg.Outbound.TimeoutSeconds) * time.Second
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewAdapter(log))
	registry.MustRegister(whatsapp.NewAdapter(log, cfg.WhatsApp.GraphBaseURL, cfg.WhatsApp.GraphAPIVersion, timeout))
	return registry
}
