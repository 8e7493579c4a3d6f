// Package cmd provides the CLI commands of the expense approvals service.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/config"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
)

var (
	envFile string
	debug   bool

	cfg *config.Config
	log *logger.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "be-expense-approvals",
	Short: "Expense approval workflow service",
	Long: `be-expense-approvals runs the multi-step expense approval workflow:
sequential and parallel approval steps per company, an append-only
approval history and per-user notifications.

Example:
  be-expense-approvals serve
  be-expense-approvals migrate up
  be-expense-approvals flows import --company acme --file flows.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(envFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return err
		}
		cfg = c

		level := cfg.Service.LogLevel
		if debug {
			level = "debug"
		}
		log = logger.New(logger.Config{
			Level:       level,
			Environment: cfg.Service.Environment,
			ServiceName: cfg.Service.Name,
			Version:     cfg.Service.Version,
		})
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is .env when present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(approvalCmd)
}

// openDatabase connects to Postgres with the configured pool settings.
func openDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		URL:          cfg.Database.URL,
		MaxConns:     cfg.Database.MaxConns,
		MinConns:     cfg.Database.MinConns,
		MaxConnTime:  cfg.Database.MaxConnTime,
		MaxIdleTime:  cfg.Database.MaxIdleTime,
		QueryTimeout: cfg.Database.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")
	return db, nil
}
