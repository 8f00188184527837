package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/core/auth"
	"github.com/solatis/tripwire/internal/core/config"
	"github.com/solatis/tripwire/internal/core/db"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage control plane API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Mint a control plane API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke KEY_ID",
	Short: "Revoke a control plane API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret id to bind the key to (default: lowest configured)")
}

func openQueries(cmd *cobra.Command) (*db.Queries, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DB.URL == "" {
		return nil, nil, fmt.Errorf("--db-url required")
	}
	database, err := db.Open(cfg.DB.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.MigrateUp(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return queries, func() { database.Close() }, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set TW_HMAC_SECRET environment variable)")
	}

	secretID, _ := cmd.Flags().GetString("secret-id")
	if secretID == "" {
		ids := make([]string, 0, len(secrets))
		for id := range secrets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		secretID = ids[0]
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("secret id %s not configured", secretID)
	}

	queries, closeDB, err := openQueries(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	keyID, key, err := auth.CreateKey(context.Background(), queries, args[0], secretID, secret)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "key id:  %s\n", keyID)
	fmt.Fprintf(out, "api key: %s\n", key)
	fmt.Fprintln(out, "The key is not stored and cannot be shown again.")
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	queries, closeDB, err := openQueries(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := auth.RevokeKey(context.Background(), queries, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}
