package main

import (
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	dbmigrations "github.com/memohai/switchboard/db"
	"github.com/memohai/switchboard/internal/db"
	"github.com/memohai/switchboard/internal/logger"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateSubCmd(db.MigrateUp, "Apply all pending migrations", cobra.NoArgs))
	cmd.AddCommand(migrateSubCmd(db.MigrateDown+" [steps]", "Roll back N migrations (all when omitted)", cobra.MaximumNArgs(1)))
	cmd.AddCommand(migrateSubCmd(db.MigrateVersion, "Show current migration version", cobra.NoArgs))
	cmd.AddCommand(migrateSubCmd(db.MigrateForce+" <version>", "Force the migration version without running migrations", cobra.ExactArgs(1)))
	return cmd
}

func migrateSubCmd(use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			source, err := fs.Sub(dbmigrations.MigrationsFS, "migrations")
			if err != nil {
				return fmt.Errorf("open embedded migrations: %w", err)
			}
			return db.RunMigrate(logger.L, cfg.Postgres, source, cmd.Name(), args)
		},
	}
}
