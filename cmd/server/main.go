// GrowthDesk - guided marketing onboarding server
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/growthdesk/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "growthdesk",
	Short: "GrowthDesk onboarding and strategy server",
	Long: `GrowthDesk turns a business profile into an audit, an action plan and a
weekly content plan, and tracks the owner's progress through them.

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purgeUserCmd)
}

// loadConfig loads .env and the environment and installs the JSON logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
