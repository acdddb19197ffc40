package pagesource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// TempDirPrefix names per-render scratch directories so stale ones can be swept.
const TempDirPrefix = "docscan-render-"

// PopplerRasterizer renders PDFs with the poppler-utils binaries.
type PopplerRasterizer struct {
	PdfinfoPath  string // defaults to "pdfinfo" on PATH
	PdftoppmPath string // defaults to "pdftoppm" on PATH
	TempDir      string // defaults to os.TempDir()
}

// PageCount runs pdfinfo and parses its "Pages:" line.
func (p *PopplerRasterizer) PageCount(ctx context.Context, path string) (int, error) {
	out, err := exec.CommandContext(ctx, orDefault(p.PdfinfoPath, "pdfinfo"), path).Output()
	if err != nil {
		return 0, commandError("pdfinfo", err)
	}
	return parsePageCount(out)
}

// RenderPage runs pdftoppm for a single page into a scratch directory that is removed
// before returning.
func (p *PopplerRasterizer) RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error) {
	dir := filepath.Join(orDefault(p.TempDir, os.TempDir()), TempDirPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	args := []string{
		"-f", n,
		"-l", n,
		"-r", strconv.FormatFloat(dpi, 'f', -1, 64),
		"-jpeg",
		"-singlefile",
		path,
		prefix,
	}

	cmd := exec.CommandContext(ctx, orDefault(p.PdftoppmPath, "pdftoppm"), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return nil, fmt.Errorf("pdftoppm: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("pdftoppm: %w", err)
	}

	img, err := imaging.Open(prefix + ".jpg")
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	return img, nil
}

func parsePageCount(out []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Pages" {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("parse page count %q: %w", value, err)
		}
		return count, nil
	}
	return 0, errors.New("pdfinfo output has no page count")
}

func commandError(name string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return fmt.Errorf("%s: %w", name, err)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
