package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/core/db"
	"github.com/solatis/tripwire/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived runs, or the entries of one run",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("run", "", "run id to print entries for")
	historyCmd.Flags().String("category", "", "only entries of this category")
	historyCmd.Flags().Int("limit", 20, "number of runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
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

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	archive := db.NewArchive(queries)
	ctx := context.Background()
	out := cmd.OutOrStdout()

	runFlag, _ := cmd.Flags().GetString("run")
	if runFlag == "" {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := archive.Runs(ctx, limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			finished := "-"
			if !r.FinishedAt.IsZero() {
				finished = r.FinishedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%s  %s  %s  %-11s cycles=%d actions=%d\n",
				r.ID, r.StartedAt.Format(time.RFC3339), finished, r.Outcome, r.CyclesExecuted, r.ActionsCompleted)
		}
		return nil
	}

	runID, err := types.ParseRunID(runFlag)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runFlag, err)
	}
	category, err := categoryFlag(cmd)
	if err != nil {
		return err
	}
	if _, err := archive.Run(ctx, runID); err != nil {
		return err
	}
	entries, err := archive.Entries(ctx, runID, category)
	if err != nil {
		return err
	}
	printEntries(cmd, entries)
	return nil
}

func categoryFlag(cmd *cobra.Command) (auditlog.Category, error) {
	s, _ := cmd.Flags().GetString("category")
	if s == "" {
		return "", nil
	}
	c, ok := auditlog.ParseCategory(s)
	if !ok {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

func printEntries(cmd *cobra.Command, entries []auditlog.Entry) {
	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-9s %s", e.Timestamp.Format(time.RFC3339Nano), e.Category, e.Message)
		if e.Payload != "" {
			fmt.Fprintf(out, "  %s", e.Payload)
		}
		fmt.Fprintln(out)
	}
}
