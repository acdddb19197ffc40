// Package recognition drives a document through page rendering and OCR.
//
// A Coordinator processes pages strictly one after another: page order in the aggregate
// follows page index, at most one request is in flight to the provider, and only one
// rendered page is held in memory. A failing page is skipped; only an unreadable
// document, missing API keys, or cancellation end a run early.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docscan/internal/keypool"
	"docscan/internal/logger"
	"docscan/internal/ocr"
	"docscan/internal/pagesource"
	"docscan/pkg/models"
)

// SourceFactory builds the page source for a document.
type SourceFactory interface {
	For(doc models.Document) pagesource.PageSource
}

// DocumentRecognizer recognizes a whole document.
type DocumentRecognizer interface {
	Recognize(ctx context.Context, doc models.Document, progress ProgressFunc) (*AggregateResult, error)
}

// Options configures a Coordinator.
type Options struct {
	// MaxPages is the hard page ceiling. A document may lower it but never raise it.
	MaxPages int

	// DefaultLanguage is reported when no page yields a language.
	DefaultLanguage string
}

// Coordinator implements DocumentRecognizer.
type Coordinator struct {
	sources    SourceFactory
	recognizer ocr.Recognizer
	opts       Options
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(sources SourceFactory, recognizer ocr.Recognizer, opts Options) *Coordinator {
	if opts.MaxPages <= 0 {
		opts.MaxPages = models.DefaultMaxPages
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = ocr.DefaultLanguage
	}
	return &Coordinator{sources: sources, recognizer: recognizer, opts: opts}
}

// Recognize opens doc, recognizes up to its page ceiling and aggregates the text.
//
// The returned result is never nil. The error is non-nil only when the run ended early:
// it wraps pagesource.ErrDocumentUnreadable, keypool.ErrNoKeysConfigured (or
// keypool.ErrCursorStore), or the context error.
func (c *Coordinator) Recognize(ctx context.Context, doc models.Document, progress ProgressFunc) (*AggregateResult, error) {
	start := time.Now()
	result := &AggregateResult{
		DocumentID: doc.ID,
		RunID:      uuid.NewString(),
		Language:   c.opts.DefaultLanguage,
	}
	log := logger.WithDocument("recognition", doc.ID, result.RunID)
	emit := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}
	finish := func() *AggregateResult {
		result.Duration = time.Since(start)
		return result
	}

	if err := ctx.Err(); err != nil {
		result.Status = StatusCanceled
		result.Message = "recognition canceled"
		return finish(), err
	}

	maxPages := c.opts.MaxPages
	if doc.MaxPages > 0 {
		maxPages = min(doc.MaxPages, maxPages)
	}

	src := c.sources.For(doc)
	defer src.Close()

	pageCount, err := src.Open(ctx)
	if err != nil {
		if !errors.Is(err, pagesource.ErrDocumentUnreadable) {
			err = fmt.Errorf("%w: %w", pagesource.ErrDocumentUnreadable, err)
		}
		log.Error().Err(err).Str("path", doc.Path).Msg("Document unreadable")
		result.Status = StatusUnreadable
		result.Message = "document unreadable"
		return finish(), err
	}

	total := min(pageCount, maxPages)
	result.PageCount = pageCount
	result.PagesProcessed = total

	startMsg := "starting"
	if pageCount > maxPages {
		startMsg = fmt.Sprintf("starting: processing first %d of %d pages", total, pageCount)
		log.Info().Int("page_count", pageCount).Int("max_pages", maxPages).Msg("Page count exceeds limit, processing first pages only")
	}
	emit(Progress{Done: 0, Total: total, Message: startMsg})

	tracker := NewLanguageTracker()

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("page", i).Msg("Recognition canceled between pages")
			c.aggregate(result, tracker, doc.ID)
			result.Status = StatusCanceled
			result.Message = fmt.Sprintf("recognition canceled after %d of %d pages", i-1, total)
			return finish(), err
		}

		emit(Progress{Done: i, Total: total, Message: fmt.Sprintf("processing page %d of %d", i, total)})

		outcome, err := c.processPage(ctx, src, doc, i, tracker, log)
		if err != nil {
			log.Error().Err(err).Int("page", i).Msg("No usable API key, aborting document")
			c.aggregate(result, tracker, doc.ID)
			result.Status = StatusNoKeys
			result.Success = false
			result.Message = "no OCR API keys configured"
			if errors.Is(err, keypool.ErrCursorStore) {
				result.Message = "API key rotation state unavailable"
			}
			return finish(), err
		}
		result.Pages = append(result.Pages, outcome)
	}

	c.aggregate(result, tracker, doc.ID)
	result.Status, result.Message = summarize(result)

	log.Info().
		Str("status", string(result.Status)).
		Int("pages_with_text", result.PagesWithText).
		Int("pages_failed", result.PagesFailed).
		Str("language", result.Language).
		Dur("duration", time.Since(start)).
		Msg("Document recognition finished")

	return finish(), nil
}

// processPage renders and recognizes page i. Per-page failures become a Failed outcome;
// only key pool failures are returned as errors.
//
// The caller's hint is sent until a page detects a language; it is never recorded.
func (c *Coordinator) processPage(ctx context.Context, src pagesource.PageSource, doc models.Document, i int, tracker *LanguageTracker, log zerolog.Logger) (PageOutcome, error) {
	outcome := PageOutcome{Page: i}
	docID := doc.ID

	image, err := src.RenderPage(ctx, i)
	if err != nil {
		log.Warn().Err(err).Int("page", i).Msg("Page render failed, skipping")
		outcome.Error = err.Error()
		return outcome, nil
	}

	hint, ok := tracker.GetHint(docID)
	if !ok {
		hint = doc.LanguageHint
	}
	res, err := c.recognizer.Recognize(ctx, image, hint)
	if err != nil {
		if keypool.IsFatal(err) {
			return outcome, err
		}
		event := log.Warn().Err(err).Int("page", i).Str("hint", hint)
		if msg := ocr.ProviderMessage(err); msg != "" {
			event = event.Str("provider_message", msg)
		}
		event.Msg("Page recognition failed, skipping")
		outcome.Error = err.Error()
		return outcome, nil
	}

	outcome.Recognized = true
	outcome.Text = res.Text
	outcome.Language = res.Language
	if tracker.RecordIfAbsent(docID, res.Language) {
		log.Debug().Int("page", i).Str("language", res.Language).Msg("Language detected")
	}

	log.Debug().Int("page", i).Int("chars", len(res.Text)).Msg("Page recognized")
	return outcome, nil
}

func (c *Coordinator) aggregate(result *AggregateResult, tracker *LanguageTracker, docID string) {
	result.PagesWithText, result.PagesFailed = 0, 0
	for _, p := range result.Pages {
		if !p.Recognized {
			result.PagesFailed++
		} else if p.HasText() {
			result.PagesWithText++
		}
	}

	result.Text = aggregateText(result.Pages, result.PagesProcessed, result.PageCount)
	result.Success = result.PagesWithText > 0
	if lang, ok := tracker.GetHint(docID); ok {
		result.Language = lang
	}
}
