package pagesource

import (
	"context"
	"fmt"
	"image"
)

// Rasterizer is the external PDF rendering engine.
type Rasterizer interface {
	// PageCount returns the number of pages in the PDF at path.
	PageCount(ctx context.Context, path string) (int, error)

	// RenderPage rasterizes the 1-based page at the given resolution.
	RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error)
}

// PDFSource is a multi-page document rendered page by page.
type PDFSource struct {
	path  string
	opts  Options
	pages int
}

// NewPDFSource returns a source for the PDF at path.
func NewPDFSource(path string, opts Options) *PDFSource {
	return &PDFSource{path: path, opts: opts.withDefaults()}
}

// Open returns the true page count, which may exceed any processing ceiling.
func (s *PDFSource) Open(ctx context.Context) (int, error) {
	count, err := s.opts.Rasterizer.PageCount(ctx, s.path)
	if err != nil {
		return 0, unreadable("Open", s.path, err)
	}
	if count < 1 {
		return 0, unreadable("Open", s.path, fmt.Errorf("no pages"))
	}
	s.pages = count
	return count, nil
}

// RenderPage rasterizes one page at Scale and re-encodes it.
func (s *PDFSource) RenderPage(ctx context.Context, index int) ([]byte, error) {
	if s.pages == 0 {
		return nil, &PageRenderError{Page: index, Err: fmt.Errorf("source not opened")}
	}
	if index < 1 || index > s.pages {
		return nil, &PageRenderError{Page: index, Err: fmt.Errorf("page out of range 1..%d", s.pages)}
	}

	img, err := s.opts.Rasterizer.RenderPage(ctx, s.path, index, s.DPI())
	if err != nil {
		return nil, &PageRenderError{Page: index, Err: err}
	}

	data, err := encodePage(img, s.opts)
	if err != nil {
		return nil, &PageRenderError{Page: index, Err: err}
	}
	return data, nil
}

// DPI is the rasterization resolution derived from Scale.
func (s *PDFSource) DPI() float64 {
	return pointsPerInch * s.opts.Scale
}

func (s *PDFSource) Close() error {
	s.pages = 0
	return nil
}
