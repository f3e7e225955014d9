package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/growthdesk/internal/store"
)

var purgeUserCmd = &cobra.Command{
	Use:   "purge-user <user-id>",
	Short: "Delete every saved record of a user",
	Long: `Delete a user's business profile, strategy snapshot and progress.

The account and its sign-ins are kept, so the user lands on onboarding the
next time they open the app. Run it while the server is stopped, or have the
user sign out first: a running server keeps the user's state in memory.`,
	Args: cobra.ExactArgs(1),
	RunE: runPurgeUser,
}

func runPurgeUser(cmd *cobra.Command, args []string) error {
	userID := strings.TrimSpace(args[0])
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	n, err := repo.PurgeUser(cmd.Context(), userID)
	if err != nil {
		return err
	}
	slog.Info("User purged", "user_id", userID, "rows_deleted", n)
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d records for %s\n", n, userID)
	return nil
}
