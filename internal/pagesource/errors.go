package pagesource

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentUnreadable is returned by Open when the source file cannot be read,
	// decoded, or inspected. It is fatal for the document.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrPageRender is matched by every *PageRenderError. A failed page is skipped.
	ErrPageRender = errors.New("page render failed")
)

// PageRenderError reports a failure to produce one page.
type PageRenderError struct {
	Page int
	Err  error
}

func (e *PageRenderError) Error() string {
	return fmt.Sprintf("pagesource: render page %d: %v", e.Page, e.Err)
}

// Unwrap exposes both ErrPageRender and the cause.
func (e *PageRenderError) Unwrap() []error {
	return []error{ErrPageRender, e.Err}
}

// SourceError wraps Open failures with the operation and path.
type SourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("pagesource: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func unreadable(op, path string, cause error) error {
	return &SourceError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrDocumentUnreadable, cause)}
}
