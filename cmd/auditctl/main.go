// auditctl runs the payroll audit jobs and import steps from a shell or a scheduler.
//
// It reads the same environment as the API server (DB_*, REDIS_ADDRESS, AUDIT_* keys).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Payroll audit jobs, imports and maintenance",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 3 when another instance holds the job lock so schedulers can tell it apart.
func exitCode(err error) int {
	if errors.Is(err, workflow.ErrJobLocked) {
		return 3
	}
	return 1
}

// services connects the database (and Redis when configured) and builds the workflow services.
func services(ctx context.Context) (*workflow.Services, error) {
	logger := config.GetLogger()
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	db, err := connect()
	if err != nil {
		return nil, err
	}
	if os.Getenv("REDIS_ADDRESS") != "" {
		if err := config.ConnectRedisWithRetry(ctx); err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("continuing without redis: " + err.Error())
		}
	}
	return workflow.NewServices(ctx, db, logger, settings)
}

// connect gives up after DB_CONNECT_ATTEMPTS (default 5) so a scheduler sees the failure.
func connect() (*gorm.DB, error) {
	if err := config.ConnectDatabase(config.IntFromEnv("DB_CONNECT_ATTEMPTS", 5)); err != nil {
		return nil, err
	}
	return config.GetDB(), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run every discrepancy detector once",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := svc.DetectJob().Run(cmd.Context())
			if summary != nil {
				if perr := printJSON(cmd, summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func escalateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Escalate overdue discrepancies and auto-review stale ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			statsOnly, _ := cmd.Flags().GetBool("stats")
			if statsOnly {
				stats, err := workflow.OverdueStatistics(cmd.Context(), svc.DB, svc.Clock.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			}
			result, err := svc.EscalateJob().Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().Bool("stats", false, "Only print overdue statistics")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			if err := models.MigrateTable(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
