// Package modules wires the switchboard process with fx.
package modules

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// App assembles every module of the serve process with fx events routed to slog.
func App(configPath string) fx.Option {
	return fx.Options(
		Graph(configPath),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

// Graph is the dependency graph of the serve process.
func Graph(configPath string) fx.Option {
	return fx.Options(
		fx.Supply(ConfigPath(configPath)),
		InfraModule,
		DomainModule,
		ChannelModule,
		PipelineModule,
		HandlersModule,
		ServerModule,
	)
}
