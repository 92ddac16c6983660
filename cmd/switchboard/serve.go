package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/memohai/switchboard/cmd/switchboard/modules"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and operator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	app := fx.New(modules.App(resolveConfigPath()))
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
