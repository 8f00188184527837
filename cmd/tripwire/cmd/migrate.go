package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending archive migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "list migrations without applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DB.URL == "" {
		return fmt.Errorf("--db-url required")
	}

	database, err := db.Open(cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if statusOnly, _ := cmd.Flags().GetBool("status"); !statusOnly {
		if err := db.MigrateUp(database); err != nil {
			return err
		}
	}

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied " + s.AppliedAt
		}
		fmt.Fprintf(out, "%-32s %s\n", s.ID, state)
	}
	return nil
}
