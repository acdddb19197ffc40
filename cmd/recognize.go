package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docscan/internal/keypool"
	"docscan/internal/logger"
	"docscan/internal/ocr"
	"docscan/internal/pagesource"
	"docscan/internal/recognition"
	"docscan/pkg/models"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize [file]",
	Short: "Recognize the text of an image or PDF with the configured OCR service",
	Long: `Render each page of an image or PDF, send it to the OCR service and print the
combined text.

PDFs are limited to the first MAX_PDF_PAGES pages (default 3). Pages that fail are
skipped; the run succeeds when at least one page produced text. Unless --no-save is
given, the text is stored under TEXT_DIR (or the SQLite result store) using the file
name without extension as document ID, and the detected language is recorded.

API keys are read from OCR_KEY_CONFIG:
  {"space_ocr_api_key": "K123"}                       single key
  {"space_ocr_api_keys": ["K1","K2"], "last_used_index": 0}   rotating keys`,
	Example: `  # Recognize a scanned invoice and store the text
  docscan recognize uploads/scan_2024.pdf

  # Print JSON without touching the text store
  docscan recognize photo.jpg --json --no-save

  # Recognize up to 5 pages of a French document
  docscan recognize contrat.pdf --max-pages 5 --language fre`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

// RecognizeOutput is the --json output.
type RecognizeOutput struct {
	*recognition.AggregateResult
	File      string `json:"file"`
	Saved     bool   `json:"saved"`
	SaveError string `json:"save_error,omitempty"`
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
	recognizeCmd.Flags().Bool("no-save", false, "Do not store the recognized text")
	recognizeCmd.Flags().Bool("quiet", false, "Do not print progress to stderr")
	recognizeCmd.Flags().Int("max-pages", 0, "Maximum PDF pages to recognize (default: MAX_PDF_PAGES)")
	recognizeCmd.Flags().String("language", "", "Initial language hint, e.g. ger, eng, fre")
	recognizeCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("recognize")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noSave, _ := cmd.Flags().GetBool("no-save")
	quiet, _ := cmd.Flags().GetBool("quiet")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	language, _ := cmd.Flags().GetString("language")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	path := args[0]
	if err := validateInputFile(path, log); err != nil {
		return err
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if maxPages <= 0 {
		maxPages = cfg.MaxPDFPages
	}
	// the flag is local operator config, so it may raise the ceiling
	cfg.MaxPDFPages = maxPages

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, cfg, !noSave, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close resources")
		}
	}()

	doc := models.NewDocument(path, maxPages)
	doc.LanguageHint = language

	log.Info().
		Str("file", path).
		Str("document_id", doc.ID).
		Int("max_pages", maxPages).
		Bool("save", !noSave).
		Msg("Starting recognition")

	var progress recognition.ProgressFunc
	if !quiet {
		progress = progressPrinter(os.Stderr)
	}

	result, err := a.pipeline.Process(ctx, doc, progress)
	if err != nil && !errors.Is(err, recognition.ErrSinkWrite) {
		return handleRecognitionError(err, log)
	}

	out := RecognizeOutput{
		AggregateResult: result,
		File:            path,
		Saved:           !noSave && result.Success && result.SaveErr == nil,
	}
	if result.SaveErr != nil {
		out.SaveError = result.SaveErr.Error()
	}

	if writeErr := writeRecognizeOutput(out, outputPath, jsonOutput, log); writeErr != nil {
		return writeErr
	}

	if err != nil {
		return handleRecognitionError(err, log)
	}
	if !result.Success {
		return errors.New(result.Message)
	}
	return nil
}

// validateInputFile checks the file exists, is a regular file and is not empty.
func validateInputFile(path string, log zerolog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("File not found")
			return fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing file")
			return fmt.Errorf("permission denied accessing file: %s", path)
		}
		return fmt.Errorf("error accessing file: %w", err)
	}

	if !info.Mode().IsRegular() {
		log.Error().Str("file", path).Msg("Path is not a regular file")
		return fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		log.Error().Str("file", path).Msg("File is empty")
		return fmt.Errorf("file is empty: %s", path)
	}
	return nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling recognition")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// progressPrinter renders progress events as a single updating line.
func progressPrinter(w io.Writer) recognition.ProgressFunc {
	const width = 20
	return func(p recognition.Progress) {
		filled := 0
		if p.Total > 0 {
			filled = p.Done * width / p.Total
		}
		bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
		fmt.Fprintf(w, "\r[%s] %d/%d %s\033[K", bar, p.Done, p.Total, p.Message)
		if p.Total == 0 || p.Done == p.Total {
			fmt.Fprintln(w)
		}
	}
}

// handleRecognitionError provides user-friendly messages for aborted runs
func handleRecognitionError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Recognition failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("recognition timed out. Try increasing --timeout or lowering --max-pages")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("recognition was canceled")
	case errors.Is(err, pagesource.ErrDocumentUnreadable):
		return fmt.Errorf("document could not be opened. Check that it is a valid image or PDF and that poppler-utils (pdfinfo, pdftoppm) is installed: %w", err)
	case errors.Is(err, keypool.ErrNoKeysConfigured):
		return fmt.Errorf("no OCR API keys configured. Add \"space_ocr_api_key\" or \"space_ocr_api_keys\" to the key config file (OCR_KEY_CONFIG): %w", err)
	case errors.Is(err, keypool.ErrCursorStore):
		return fmt.Errorf("API key rotation state could not be read or written. Check OCR_KEY_CONFIG / OCR_KEY_DB permissions: %w", err)
	case errors.Is(err, recognition.ErrSinkWrite):
		return fmt.Errorf("text was recognized but could not be stored (see output above): %w", err)
	case errors.Is(err, ocr.ErrTransport):
		return fmt.Errorf("OCR service unreachable. Check network access and OCR_API_URL: %w", err)
	case errors.Is(err, ocr.ErrProvider):
		return fmt.Errorf("OCR service rejected the request: %s", ocr.ProviderMessage(err))
	default:
		return fmt.Errorf("recognition failed: %w", err)
	}
}

func writeRecognizeOutput(out RecognizeOutput, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var data []byte
	if jsonOutput {
		var err error
		data, err = json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		data = []byte(out.Text)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			log.Error().Err(err).Str("output_file", outputPath).Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().Str("output_file", outputPath).Int("bytes", len(data)).Msg("Recognition result written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()

	if !jsonOutput {
		fmt.Fprintln(os.Stderr, out.Message)
	}
	return nil
}
