package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// rasterizeFirstPage renders page one of the PDF at path into dir and returns the image path.
func (e *Extractor) rasterizeFirstPage(ctx context.Context, path, dir string) (string, error) {
	prefix := filepath.Join(dir, "page")
	// pdftoppm -r 300 -png -f 1 -l 1 <in.pdf> <dir/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", "-f", "1", "-l", "1", path, prefix)
	if err != nil {
		return "", commandError("pdftoppm", err, errb)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm produced no images")
	}
	return matches[0], nil
}

// tesseract runs OCR on a single image file.
func (e *Extractor) tesseract(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.Language)
	if err != nil {
		return "", commandError("tesseract", err, errb)
	}
	text := normalize(string(out))
	if text == "" {
		return "", fmt.Errorf("tesseract: %w", ErrNoText)
	}
	return text, nil
}

// ocrPDF rasterizes the first page into a scratch directory and OCRs it.
// The directory is removed on every return path.
func (e *Extractor) ocrPDF(ctx context.Context, data []byte) (string, error) {
	dir, err := e.scratchDir()
	if err != nil {
		return "", err
	}
	defer e.removeScratch(dir)

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	img, err := e.rasterizeFirstPage(ctx, in, dir)
	if err != nil {
		return "", err
	}
	return e.tesseract(ctx, img)
}

// ocrImage writes the image into a scratch directory and OCRs it.
func (e *Extractor) ocrImage(ctx context.Context, data []byte, ext string) (string, error) {
	dir, err := e.scratchDir()
	if err != nil {
		return "", err
	}
	defer e.removeScratch(dir)

	in := filepath.Join(dir, "input"+ext)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return e.tesseract(ctx, in)
}

func (e *Extractor) scratchDir() (string, error) {
	dir, err := os.MkdirTemp(e.cfg.TempDir, "credeval-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func (e *Extractor) removeScratch(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Sugar().Warnw("failed to remove scratch dir", "dir", dir, "error", err)
	}
}

func commandError(name string, err error, stderr []byte) error {
	msg := strings.TrimSpace(truncate(string(stderr), 512))
	if msg == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, msg)
}
