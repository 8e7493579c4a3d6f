package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
)

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			log.Error().Err(err).Msg("Migration failed")
			return err
		}
		log.Info().Msg("Database migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.RollbackMigrations(cfg.Database.URL, rollbackSteps); err != nil {
			log.Error().Err(err).Msg("Rollback failed")
			return err
		}
		log.Info().Int("steps", rollbackSteps).Msg("Database migrations rolled back")
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
