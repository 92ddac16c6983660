package modules

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/switchboard/internal/boot"
	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/handlers"
	"github.com/memohai/switchboard/internal/inbound"
	"github.com/memohai/switchboard/internal/inbox"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/outbound"
	"github.com/memohai/switchboard/internal/server"
)

var HandlersModule = fx.Module(
	"handlers",
	fx.Provide(
		annotateHandler(providePingHandler),
		annotateHandler(provideWebhookHandler),
		annotateHandler(provideOperatorHandler),
	),
)

func annotateHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

// ---------------------------------------------------------------------------
// handler providers (interface adaptation / config extraction)
// ---------------------------------------------------------------------------

func providePingHandler(log *slog.Logger, conn *pgxpool.Pool) *handlers.PingHandler {
	return handlers.NewPingHandler(log, conn)
}

func provideWebhookHandler(log *slog.Logger, rc *boot.RuntimeConfig, accounts *channel.DBAccountStore, registry *channel.Registry, processor *inbound.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, accounts, registry, processor, rc.WebhookTimeout)
}

type operatorParams struct {
	fx.In

	Logger        *slog.Logger
	Conversations *conversation.Service
	Inbox         *inbox.Service
	Messages      *message.DBService
	Accounts      *channel.DBAccountStore
	Dispatcher    *outbound.Dispatcher
	Publisher     event.Publisher
	Hub           *event.Hub
}

func provideOperatorHandler(p operatorParams) *handlers.OperatorHandler {
	return handlers.NewOperatorHandler(p.Logger, handlers.OperatorDeps{
		Conversations: p.Conversations,
		Inbox:         p.Inbox,
		Messages:      p.Messages,
		Accounts:      p.Accounts,
		Dispatcher:    p.Dispatcher,
		Publisher:     p.Publisher,
		Stream:        p.Hub,
	})
}
