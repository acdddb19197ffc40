package recognition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSinkWrite is matched by *SinkWriteError.
var ErrSinkWrite = errors.New("failed to store recognized text")

// SinkWriteError reports that recognition succeeded but its result could not be stored.
type SinkWriteError struct {
	DocumentID string
	Op         string // "save" or "record language"
	Err        error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("recognition: %s %s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *SinkWriteError) Unwrap() []error {
	return []error{ErrSinkWrite, e.Err}
}

// Progress is one (pagesDone, pagesTotal, message) event.
type Progress struct {
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// ProgressFunc receives progress events synchronously and must return quickly.
type ProgressFunc func(Progress)

// Status summarizes how a run ended.
type Status string

const (
	StatusComplete   Status = "complete"
	StatusPartial    Status = "partial"
	StatusNoText     Status = "no_text"
	StatusUnreadable Status = "unreadable"
	StatusNoKeys     Status = "no_keys"
	StatusCanceled   Status = "canceled"
)

// PageOutcome is the per-page Recognized or Failed result.
type PageOutcome struct {
	Page       int    `json:"page"`
	Recognized bool   `json:"recognized"`
	Text       string `json:"-"`
	Language   string `json:"language,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HasText reports whether the page contributed text to the aggregate.
func (p PageOutcome) HasText() bool {
	return p.Recognized && strings.TrimSpace(p.Text) != ""
}

// AggregateResult is the outcome of recognizing one document.
type AggregateResult struct {
	DocumentID string `json:"document_id"`
	RunID      string `json:"run_id"`
	Text       string `json:"text"`
	Message    string `json:"message"`
	Language   string `json:"language"`

	// Success is true iff at least one page produced non-empty text.
	Success bool   `json:"success"`
	Status  Status `json:"status"`

	// PageCount is the true page count; PagesProcessed is min(PageCount, max pages).
	PageCount      int           `json:"page_count"`
	PagesProcessed int           `json:"pages_processed"`
	PagesWithText  int           `json:"pages_with_text"`
	PagesFailed    int           `json:"pages_failed"`
	Pages          []PageOutcome `json:"pages,omitempty"`
	Duration       time.Duration `json:"duration"`
	SaveErr        error         `json:"-"`
}

// Capped reports whether pages beyond the ceiling were left unprocessed.
func (r *AggregateResult) Capped() bool {
	return r.PageCount > r.PagesProcessed
}

const pageMarker = "=== PAGE %d ==="

// aggregateText joins non-empty page texts in ascending page order. Pages are
// marked when more than one page was processed, and a note is prepended when the
// document was capped and some text was found.
func aggregateText(pages []PageOutcome, processed, pageCount int) string {
	var b strings.Builder
	for _, p := range pages {
		if !p.HasText() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if processed > 1 {
			fmt.Fprintf(&b, pageMarker+"\n\n", p.Page)
		}
		b.WriteString(strings.TrimSpace(p.Text))
	}

	if b.Len() == 0 {
		return ""
	}
	if pageCount > processed {
		return fmt.Sprintf("NOTE: This PDF has %d pages. Due to API limitations, only the first %d pages were processed.\n\n", pageCount, processed) + b.String()
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}

// scope describes which pages were processed, e.g. "3 pages" or "first 3 of 7 pages".
func scope(processed, pageCount int) string {
	if pageCount > processed {
		return fmt.Sprintf("first %d of %d pages", processed, pageCount)
	}
	return plural(processed)
}

func summarize(r *AggregateResult) (Status, string) {
	switch {
	case r.PagesWithText == 0:
		msg := "No text found"
		if r.PagesProcessed > 1 || r.Capped() {
			msg += " in " + scope(r.PagesProcessed, r.PageCount)
		}
		if r.PagesFailed > 0 {
			msg += fmt.Sprintf(" (%d of %d pages skipped)", r.PagesFailed, r.PagesProcessed)
		}
		return StatusNoText, msg
	case r.PagesFailed > 0:
		return StatusPartial, fmt.Sprintf("Text partially recognized from %s (%d of %d pages skipped)",
			scope(r.PagesProcessed, r.PageCount), r.PagesFailed, r.PagesProcessed)
	default:
		return StatusComplete, "Text recognized from " + scope(r.PagesProcessed, r.PageCount)
	}
}
