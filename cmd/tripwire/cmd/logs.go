package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/core/api"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query a running loop through its control plane",
	RunE:  runLogs,
}

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running loop",
		RunE:  runStatus,
	}
	interruptCmd = &cobra.Command{
		Use:   "interrupt",
		Short: "Interrupt a running loop",
		RunE:  runInterrupt,
	}
)

func init() {
	for _, c := range []*cobra.Command{logsCmd, statusCmd, interruptCmd} {
		rootCmd.AddCommand(c)
		c.Flags().String("addr", "127.0.0.1:50051", "control plane address")
		c.Flags().String("api-key", "", "control plane API key (default $TW_API_KEY)")
	}
	logsCmd.Flags().String("category", "", "only entries of this category")
	logsCmd.Flags().Int("limit", 0, "only the newest N entries")
}

func dialControl(cmd *cobra.Command) (*api.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	key, _ := cmd.Flags().GetString("api-key")
	if key == "" {
		key = os.Getenv("TW_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("API key required (--api-key or TW_API_KEY)")
	}
	return api.Dial(addr, key)
}

func runLogs(cmd *cobra.Command, args []string) error {
	category, err := categoryFlag(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	c, err := dialControl(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entries, err := c.Logs(ctx, category, limit)
	if err != nil {
		return err
	}
	printEntries(cmd, entries)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := dialControl(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:       %s\n", st.RunID)
	fmt.Fprintf(out, "state:     %s\n", st.State)
	if st.Outcome != "" {
		fmt.Fprintf(out, "outcome:   %s\n", st.Outcome)
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(out, "started:   %s\n", st.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "cycles:    %d\n", st.CyclesExecuted)
	fmt.Fprintf(out, "actions:   %d\n", st.ActionsCompleted)
	fmt.Fprintf(out, "satisfied: %v\n", st.Satisfied)
	return nil
}

func runInterrupt(cmd *cobra.Command, args []string) error {
	c, err := dialControl(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Interrupt(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "interrupt requested")
	return nil
}
