// Package cmd provides the flyerbird CLI commands.
//
// Commands:
//   - serve: HTTP API server (search, ingestion triggers, job polling)
//   - ingest: one-shot ingestion of extraction documents from a directory
//   - embed: one-shot embedding backfill for the current ad week
//   - migrate: apply database schema migrations
//
// All commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/flyerbird/flyerbird/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "flyerbird",
	Short: "Weekly retail ad ingestion and semantic product search",
	Long: `Flyerbird ingests weekly retail ad extractions, embeds products with
Gemini, and answers natural-language product queries over pgvector.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	initLogger()
	return rootCmd.Execute()
}

// initLogger installs the default structured logger. DEBUG in the
// environment switches to debug level, LOG_JSON to JSON output.
func initLogger() {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("LOG_JSON") != "" {
		cfg.JSON = true
	}
	slog.SetDefault(log.New(cfg))
}
