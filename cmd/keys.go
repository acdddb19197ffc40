package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docscan/internal/logger"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect the OCR API key pool",
}

var keysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show key mode, key count and rotation cursor without consuming a key",
	Example: `  docscan keys status
  docscan keys status --json`,
	Args: cobra.NoArgs,
	RunE: runKeysStatus,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysStatusCmd)

	keysStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runKeysStatus(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("keys")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, closer, err := newKeyPool(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	status, err := pool.Status(ctx)
	if err != nil {
		log.Error().Err(err).Str("config", cfg.KeyConfigPath).Msg("Failed to read key pool status")
		return handleRecognitionError(err, log)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Printf("Key config:  %s\n", cfg.KeyConfigPath)
	fmt.Printf("Cursor store: %s\n", cfg.KeyStore)
	fmt.Printf("Mode:        %s\n", status.Mode)
	fmt.Printf("Keys:        %d\n", status.KeyCount)
	if status.KeyCount > 1 {
		fmt.Printf("Cursor:      %d (next key: %d)\n", status.Cursor, (status.Cursor+1)%status.KeyCount)
	}
	return nil
}
