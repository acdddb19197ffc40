package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docscan/internal/cleanup"
	"docscan/internal/logger"
	"docscan/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recognition HTTP API",
	Long: `Start the HTTP API:

  POST /api/documents/{filename}/recognize   recognize a file from UPLOAD_DIR
  GET  /api/documents/{filename}/text        stored text of a document
  POST /api/ocr                              recognize one image (JSON or multipart)
  GET  /healthz

Stale render directories in TEMP_DIR are removed on CLEANUP_SCHEDULE.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
	serveCmd.Flags().Bool("no-cleanup", false, "Do not schedule temp cleanup")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTPAddr
	}
	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close resources")
		}
	}()

	if !noCleanup && cfg.CleanupSchedule != "" {
		scheduler, err := cleanup.NewScheduler(cleanup.NewSweeper(cfg.TempDir, cfg.CleanupMaxAge), cfg.CleanupSchedule)
		if err != nil {
			log.Error().Err(err).Str("schedule", cfg.CleanupSchedule).Msg("Invalid cleanup schedule")
			return err
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	srv := server.New(a.pipeline, a.store, a.recognizer, server.Options{
		UploadDir:       cfg.UploadDir,
		MaxPages:        cfg.MaxPDFPages,
		DefaultLanguage: cfg.OCRDefaultLanguage,
		AllowedOrigins:  cfg.AllowedOriginList(),
	})

	log.Info().
		Str("addr", addr).
		Str("upload_dir", cfg.UploadDir).
		Str("provider", cfg.OCRProvider).
		Msg("Starting recognition service")

	return srv.ListenAndServe(ctx, addr)
}
