package pagesource

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageSource is a single-page document backed by a raster image file.
type ImageSource struct {
	path string
	opts Options
	img  image.Image
}

// NewImageSource returns a source for the image at path.
func NewImageSource(path string, opts Options) *ImageSource {
	return &ImageSource{path: path, opts: opts.withDefaults()}
}

// Open decodes the image, applying EXIF orientation.
func (s *ImageSource) Open(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	img, err := imaging.Open(s.path, imaging.AutoOrientation(true))
	if err != nil {
		return 0, unreadable("Open", s.path, err)
	}
	s.img = img
	return 1, nil
}

// RenderPage returns the downscaled image as JPEG. Only index 1 exists.
func (s *ImageSource) RenderPage(ctx context.Context, index int) ([]byte, error) {
	if s.img == nil {
		return nil, &PageRenderError{Page: index, Err: fmt.Errorf("source not opened")}
	}
	if index != 1 {
		return nil, &PageRenderError{Page: index, Err: fmt.Errorf("page out of range 1..1")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &PageRenderError{Page: index, Err: err}
	}

	data, err := encodePage(s.img, s.opts)
	if err != nil {
		return nil, &PageRenderError{Page: index, Err: err}
	}
	return data, nil
}

// Close releases the decoded image.
func (s *ImageSource) Close() error {
	s.img = nil
	return nil
}

// encodePage fits img within MaxDimension on its longest edge and encodes it as JPEG.
func encodePage(img image.Image, opts Options) ([]byte, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("empty image")
	}

	if bounds.Dx() > opts.MaxDimension || bounds.Dy() > opts.MaxDimension {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
