package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/switchboard/cmd/switchboard/modules"
	"github.com/memohai/switchboard/internal/boot"
	"github.com/memohai/switchboard/internal/db"
	"github.com/memohai/switchboard/internal/logger"
	"github.com/memohai/switchboard/internal/skills"
)

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Skill index maintenance",
	}
	cmd.AddCommand(skillsReindexCmd())
	return cmd
}

func skillsReindexCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild an organization's skill vectors from the skills table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID = strings.TrimSpace(orgID)
			if orgID == "" {
				return errors.New("--org is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			rc, err := boot.ProvideRuntimeConfig(cfg)
			if err != nil {
				return err
			}
			if !rc.SkillSearchEnabled() {
				return errors.New("embedding api key is not configured")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			conn, err := db.Open(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer conn.Close()

			index, err := modules.NewQdrantIndex(logger.L, cfg, rc)
			if err != nil {
				return err
			}
			defer index.Close()

			n, err := skills.NewIndexer(logger.L, skills.NewStore(logger.L, conn), index).Reindex(ctx, orgID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d skills for organization %s\n", n, orgID)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	return cmd
}
