package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/switchboard/internal/auth"
	"github.com/memohai/switchboard/internal/boot"
)

func tokenCmd() *cobra.Command {
	var (
		operatorID string
		orgID      string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rc, err := boot.ProvideRuntimeConfig(cfg)
			if err != nil {
				return err
			}
			token, expiresAt, err := auth.GenerateToken(operatorID, orgID, rc.JwtSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator id (token subject)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id the operator works in")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
