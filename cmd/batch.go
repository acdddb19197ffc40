package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docscan/internal/keypool"
	"docscan/internal/logger"
	"docscan/internal/recognition"
	"docscan/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Recognize every image and PDF in a folder",
	Long: `Recognize all images and PDFs in a folder (not recursive) and store their text.

Documents are processed by BATCH_WORKERS parallel workers (default 4). All workers
share one key pool and one outbound rate limit, so adding workers does not raise the
request rate above OCR_RATE_PER_MINUTE.`,
	Example: `  # Recognize all uploads
  docscan batch ./uploads

  # Dry run without storing text
  docscan batch ./uploads --no-save --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// BatchResult is the outcome for one file
type BatchResult struct {
	Filename string
	Result   *recognition.AggregateResult
	Error    error
	Index    int // Original order index
}

// WorkerJob represents a document recognition job
type WorkerJob struct {
	FilePath string
	Index    int
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Bool("no-save", false, "Recognize files but don't store the text")
	batchCmd.Flags().Bool("verbose", false, "Log every document result")
	batchCmd.Flags().Int("workers", 0, "Parallel workers (default: BATCH_WORKERS)")
	batchCmd.Flags().Duration("timeout", 30*time.Minute, "Timeout for the whole batch")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	folderPath := args[0]
	noSave, _ := cmd.Flags().GetBool("no-save")
	verbose, _ := cmd.Flags().GetBool("verbose")
	workers, _ := cmd.Flags().GetInt("workers")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = cfg.BatchWorkers
	}

	files, err := findDocuments(folderPath)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No images or PDFs found in folder.")
		return nil
	}

	ctx, cancel := createContextWithTimeout(int(timeout.Seconds()), log)
	defer cancel()

	a, err := newApp(ctx, cfg, !noSave, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("folder", folderPath).
		Int("files", len(files)).
		Int("workers", workers).
		Bool("save", !noSave).
		Msg("Starting batch recognition")

	fmt.Printf("Recognizing %d documents with %d workers...\n\n", len(files), workers)

	results := recognizeInParallel(ctx, a.pipeline, files, cfg.MaxPDFPages, workers, log, verbose)

	counts := map[string]int{}
	var fatal error
	for _, r := range results {
		counts[batchStatus(r)]++
		if r.Error != nil && keypool.IsFatal(r.Error) && fatal == nil {
			fatal = r.Error
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Recognized: %d\n", counts["success"])
	if counts["warning"] > 0 {
		fmt.Printf("Partial:    %d\n", counts["warning"])
	}
	if counts["empty"] > 0 {
		fmt.Printf("No text:    %d\n", counts["empty"])
	}
	if counts["error"] > 0 {
		fmt.Printf("Failed:     %d\n", counts["error"])
	}
	fmt.Println(strings.Repeat("=", 50))

	log.Info().
		Int("total", len(files)).
		Int("success", counts["success"]).
		Int("partial", counts["warning"]).
		Int("no_text", counts["empty"]).
		Int("errors", counts["error"]).
		Msg("Batch recognition completed")

	if fatal != nil {
		return handleRecognitionError(fatal, log)
	}
	if counts["error"] > 0 {
		return fmt.Errorf("%d of %d documents failed", counts["error"], len(files))
	}
	return nil
}

// findDocuments lists recognizable files directly inside folderPath, sorted by name.
func findDocuments(folderPath string) ([]string, error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if documentExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(folderPath, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// recognizeInParallel processes documents using a worker pool pattern
func recognizeInParallel(ctx context.Context, pipeline processor, files []string, maxPages, numWorkers int, log zerolog.Logger, verbose bool) []BatchResult {
	jobs := make(chan WorkerJob, len(files))
	results := make([]BatchResult, len(files))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.FilePath).
					Int("index", job.Index+1).
					Msg("Worker recognizing document")

				doc := models.NewDocument(job.FilePath, maxPages)
				result, err := pipeline.Process(ctx, doc, nil)

				r := BatchResult{
					Filename: filepath.Base(job.FilePath),
					Result:   result,
					Error:    err,
					Index:    job.Index,
				}
				results[job.Index] = r

				if verbose && result != nil {
					log.Info().
						Str("file", r.Filename).
						Str("status", string(result.Status)).
						Str("language", result.Language).
						Int("pages_with_text", result.PagesWithText).
						Msg("Document processed")
				}

				mu.Lock()
				processedCount++
				fmt.Printf("[%d/%d] %s - %s", processedCount, len(files), r.Filename, getStatusEmoji(batchStatus(r)))
				switch {
				case err != nil:
					fmt.Printf(" (%s)", err.Error())
				case result != nil:
					fmt.Printf(" (%s)", result.Message)
				}
				fmt.Println()
				mu.Unlock()
			}
		}(w)
	}

	for i, file := range files {
		jobs <- WorkerJob{FilePath: file, Index: i}
	}
	close(jobs)

	wg.Wait()

	return results
}

type processor interface {
	Process(ctx context.Context, doc models.Document, progress recognition.ProgressFunc) (*recognition.AggregateResult, error)
}

// batchStatus folds a result into success, warning, empty or error.
func batchStatus(r BatchResult) string {
	switch {
	case r.Error != nil && !errors.Is(r.Error, recognition.ErrSinkWrite):
		return "error"
	case r.Error != nil:
		// recognized but not stored
		return "warning"
	case r.Result == nil:
		return "error"
	}
	switch r.Result.Status {
	case recognition.StatusComplete:
		return "success"
	case recognition.StatusPartial:
		return "warning"
	case recognition.StatusNoText:
		return "empty"
	default:
		return "error"
	}
}

// getStatusEmoji returns an emoji for the processing status
func getStatusEmoji(status string) string {
	switch status {
	case "success":
		return "✅"
	case "warning":
		return "⚠️"
	case "empty":
		return "∅"
	case "error":
		return "❌"
	default:
		return "❓"
	}
}
