package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/spf13/cobra"
)

// tokenCmd mints an API bearer token for an operator, for scripts and first-time setup.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}
			if settings.JwtSecret == "" {
				return errors.New("API_SECRET is not set")
			}
			userId, _ := cmd.Flags().GetInt("actor")
			if userId <= 0 {
				return errors.New("--actor is required")
			}
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := utils.JwtGenerate([]byte(settings.JwtSecret), userId, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int("actor", 0, "User id carried by the token")
	cmd.Flags().String("role", "auditor", "Role carried by the token")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
