// Package pagesource turns a document into an ordered sequence of JPEG pages.
//
// Images yield exactly one page. PDFs are inspected for their true page count on Open and
// rasterized one page per RenderPage call; nothing is cached between calls. Every page is
// downscaled so its longest edge fits MaxDimension and re-encoded as JPEG.
package pagesource

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"docscan/pkg/models"
)

const (
	DefaultMaxDimension = 2000
	DefaultJPEGQuality  = 90
	DefaultScale        = 1.5

	// pointsPerInch converts a render scale to DPI (PDF user space is 72 units per inch).
	pointsPerInch = 72.0
)

// PageSource yields the pages of one document.
type PageSource interface {
	// Open inspects the document and returns its true page count.
	Open(ctx context.Context) (int, error)

	// RenderPage returns JPEG bytes for the 1-based page index.
	RenderPage(ctx context.Context, index int) ([]byte, error)

	Close() error
}

// Options controls page rendering.
type Options struct {
	MaxDimension int
	JPEGQuality  int

	// Scale is applied to the PDF page size; 1.5 renders at 108 DPI.
	Scale float64

	Rasterizer Rasterizer
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if o.Scale <= 0 {
		o.Scale = DefaultScale
	}
	if o.Rasterizer == nil {
		o.Rasterizer = &PopplerRasterizer{}
	}
	return o
}

// Factory builds the PageSource variant matching a document.
type Factory struct {
	opts Options
}

// NewFactory returns a factory applying opts to every source it builds.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// For returns an image or PDF source for doc, detecting the kind when unset.
func (f *Factory) For(doc models.Document) PageSource {
	kind := doc.Kind
	if kind == models.KindUnknown {
		kind = DetectKind(doc.Path)
	}
	if kind == models.KindPDF {
		return NewPDFSource(doc.Path, f.opts)
	}
	return NewImageSource(doc.Path, f.opts)
}

// DetectKind sniffs the file's magic bytes and falls back to the extension.
// Unknown files are treated as images and fail on Open if they cannot be decoded.
func DetectKind(path string) models.DocumentKind {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		head = head[:n]
		if n >= 4 && string(head[:4]) == "%PDF" {
			return models.KindPDF
		}
		if n > 0 && strings.HasPrefix(http.DetectContentType(head), "image/") {
			return models.KindImage
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return models.KindPDF
	}
	return models.KindImage
}
