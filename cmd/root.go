package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docscan/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "docscan",
	Short: "docscan - OCR for scanned images and PDFs",
	Long: `docscan recognizes the text of scanned images and PDFs with OCR.space or Google
Cloud Vision, rotating through a pool of API keys.

Pages are rendered and downscaled locally, sent one by one with a consistent
language hint, and the combined text is stored per document.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("docscan executed")

		fmt.Println("Welcome to docscan!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}
