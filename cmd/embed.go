package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flyerbird/flyerbird/internal/app"
	"github.com/flyerbird/flyerbird/internal/config"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Backfill embeddings for current-week products",
	Long: `Fetches current-week products without an embedding, composes their
embedding text, and writes vectors in batches until the backlog is drained.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEmbed(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	report, err := a.Worker.Run(ctx)
	if err != nil {
		return fmt.Errorf("running embedding worker: %w", err)
	}

	fmt.Printf("Processed %d batches: %d fetched, %d embedded, %d skipped, %d failed\n",
		report.Batches, report.Fetched, report.Embedded, report.Skipped, report.Failed)
	return nil
}
