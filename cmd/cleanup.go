package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"docscan/internal/cleanup"
	"docscan/internal/logger"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale render directories and temporary PDFs from TEMP_DIR",
	Example: `  # Remove entries older than CLEANUP_MAX_AGE (default 24h)
  docscan cleanup

  # Remove everything older than one hour
  docscan cleanup --max-age 1h`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().Duration("max-age", 0, "Minimum age of removed entries (default: CLEANUP_MAX_AGE)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cleanup")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	maxAge, _ := cmd.Flags().GetDuration("max-age")
	if maxAge <= 0 {
		maxAge = cfg.CleanupMaxAge
	}

	report, err := cleanup.NewSweeper(cfg.TempDir, maxAge).Sweep(context.Background())
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.TempDir).Msg("Cleanup failed")
		return fmt.Errorf("cleanup failed: %w", err)
	}

	for _, removeErr := range report.Errors {
		log.Warn().Err(removeErr).Msg("Failed to remove entry")
	}

	fmt.Println("Cleanup complete.")
	fmt.Printf("Removed: %d\n", len(report.Removed))
	fmt.Printf("Kept:    %d\n", report.Kept)
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d entries could not be removed", len(report.Errors))
	}
	return nil
}
