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

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest weekly ad extraction documents from a directory",
	Long: `Scans a directory for extraction JSON documents, rotates each
retailer's ad periods, and loads the new products. The directory defaults
to extractions_dir from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		return runIngest(cmd.Context(), dir)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context, dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if dir == "" {
		dir = cfg.ExtractionsDir
	}
	if dir == "" {
		return fmt.Errorf("no directory given and extractions_dir not configured")
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

	summary, err := a.Runner.Run(ctx, dir)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", dir, err)
	}

	fmt.Printf("Processed %d documents: %d ingested, %d duplicates, %d unknown retailers, %d failed\n",
		summary.Total(), summary.Ingested, summary.Duplicates, summary.UnknownRetailers, summary.Failed)

	if summary.Failed > 0 {
		return fmt.Errorf("%d documents failed", summary.Failed)
	}
	return nil
}
