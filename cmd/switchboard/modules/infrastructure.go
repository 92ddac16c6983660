package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/switchboard/internal/boot"
	"github.com/memohai/switchboard/internal/config"
	"github.com/memohai/switchboard/internal/db"
	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/logger"
)

// ConfigPath is the TOML file the process loads.
type ConfigPath string

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideDBConn,
		provideDBTX,
		boot.ProvideRuntimeConfig,
		event.NewHub,
		provideEventPublisher,
	),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfig(path ConfigPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideDBTX(conn *pgxpool.Pool) db.DBTX {
	return conn
}

// provideEventPublisher fans events out to operator streams and, when configured, RabbitMQ.
func provideEventPublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig, hub *event.Hub) (event.Publisher, error) {
	if !rc.EventBusEnabled() {
		log.Info("rabbitmq not configured; events stay in-process")
		return event.Fanout{hub}, nil
	}
	amqpPublisher, err := event.DialAMQP(log, strings.TrimSpace(rc.RabbitMQURL), cfg.RabbitMQ.Exchange)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return amqpPublisher.Close()
		},
	})
	return event.Fanout{hub, amqpPublisher}, nil
}
