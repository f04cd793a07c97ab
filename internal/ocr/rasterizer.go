package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Rasterizer renders PDF pages to PNG images with poppler's pdftoppm, for
// scanned PDFs that carry no text layer.
type Rasterizer struct {
	dpi      int
	maxPages int
}

// NewRasterizer returns nil when pdftoppm is not installed.
func NewRasterizer(dpi, maxPages int) *Rasterizer {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil
	}
	if dpi <= 0 {
		dpi = 200
	}
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Rasterizer{dpi: dpi, maxPages: maxPages}
}

// Rasterize returns one PNG per page, in page order.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfData []byte) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "dte-raster-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-r", strconv.Itoa(r.dpi),
		"-l", strconv.Itoa(r.maxPages),
		"-png", input, prefix)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, stderr.String())
	}

	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	// page-1.png .. page-10.png need numeric order
	sort.Slice(files, func(i, j int) bool {
		if len(files[i]) != len(files[j]) {
			return len(files[i]) < len(files[j])
		}
		return files[i] < files[j]
	})

	pages := make([][]byte, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		pages = append(pages, b)
	}
	return pages, nil
}
