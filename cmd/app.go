package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"docscan/internal/config"
	"docscan/internal/keypool"
	"docscan/internal/ocr"
	"docscan/internal/pagesource"
	"docscan/internal/recognition"
	"docscan/internal/store"
	"docscan/pkg/services"
)

// app holds the collaborators shared by the recognition commands.
type app struct {
	cfg        *config.Config
	pool       *keypool.Pool
	recognizer ocr.Recognizer
	store      services.DocumentStore
	pipeline   *recognition.Pipeline

	closers []io.Closer
}

// loadConfig reads configuration; main already loaded .env.
func loadConfig(log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newKeyPool builds the pool from the key config file and the configured cursor store.
func newKeyPool(ctx context.Context, cfg *config.Config) (*keypool.Pool, io.Closer, error) {
	files := keypool.NewFileStore(cfg.KeyConfigPath)

	switch cfg.KeyStore {
	case "sqlite":
		cursor, err := keypool.OpenSQLStore(ctx, cfg.KeyDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open key cursor database: %w", err)
		}
		return keypool.New(files, cursor, keypool.Selection(cfg.KeySelection)), cursor, nil
	default:
		return keypool.New(files, files, keypool.Selection(cfg.KeySelection)), nil, nil
	}
}

// newApp wires key pool, recognizer, page sources, coordinator and result store.
// withStore=false leaves the pipeline writing to a discarding sink.
func newApp(ctx context.Context, cfg *config.Config, withStore bool, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	pool, cursorCloser, err := newKeyPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	if cursorCloser != nil {
		a.closers = append(a.closers, cursorCloser)
	}

	recognizer, err := ocr.New(ocr.Options{
		Provider:        cfg.OCRProvider,
		Endpoint:        cfg.OCRAPIURL,
		Engine:          cfg.OCREngine,
		DefaultLanguage: cfg.OCRDefaultLanguage,
		Timeout:         cfg.OCRTimeout,
		RatePerMinute:   cfg.OCRRatePerMinute,
	}, pool)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.recognizer = recognizer
	if c, ok := recognizer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	factory := pagesource.NewFactory(pagesource.Options{
		MaxDimension: cfg.MaxImageDimension,
		JPEGQuality:  cfg.JPEGQuality,
		Scale:        cfg.PDFRenderScale,
		Rasterizer: &pagesource.PopplerRasterizer{
			PdfinfoPath:  cfg.PdfinfoPath,
			PdftoppmPath: cfg.PdftoppmPath,
			TempDir:      cfg.TempDir,
		},
	})

	coordinator := recognition.NewCoordinator(factory, recognizer, recognition.Options{
		MaxPages:        cfg.MaxPDFPages,
		DefaultLanguage: cfg.OCRDefaultLanguage,
	})

	var sink services.DocumentStore = discardStore{}
	if withStore {
		sink, err = store.Open(ctx, cfg.ResultStore, cfg.TextDir, cfg.MetaDir, cfg.ResultDBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open result store: %w", err)
		}
		a.closers = append(a.closers, sink)
	}
	a.store = sink
	a.pipeline = recognition.NewPipeline(coordinator, sink, sink)

	log.Debug().
		Str("provider", cfg.OCRProvider).
		Str("key_store", cfg.KeyStore).
		Str("result_store", cfg.ResultStore).
		Bool("save", withStore).
		Msg("Recognition pipeline ready")

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// discardStore backs --no-save runs.
type discardStore struct{}

func (discardStore) Save(context.Context, string, string) error { return nil }

func (discardStore) Load(_ context.Context, id string) (string, error) {
	return "", fmt.Errorf("%w: %s", services.ErrTextNotFound, id)
}

func (discardStore) RecordLanguage(context.Context, string, string) error { return nil }

func (discardStore) Close() error { return nil }
