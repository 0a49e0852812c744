package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

var _ OCREngine = (*TesseractOCR)(nil)
var _ PageRenderer = (*PopplerRenderer)(nil)

// TesseractOCR runs optical character recognition through the system
// tesseract installation. A fresh client is created per call and always
// closed, success or failure.
type TesseractOCR struct {
	// Language passed to tesseract; empty means the engine default.
	Language string
}

func (t *TesseractOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.Language != "" {
		if err := client.SetLanguage(t.Language); err != nil {
			return "", fmt.Errorf("set OCR language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("load image for OCR: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}

// PopplerRenderer rasterizes PDF pages with pdftoppm, the same poppler
// toolchain docconv shells out to for text extraction. Pages come back
// in page order.
type PopplerRenderer struct {
	// DPI for rendering; 0 means 200, enough for OCR without huge files.
	DPI int
}

func (p *PopplerRenderer) RenderPages(ctx context.Context, pdf []byte) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "docbot-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("ocr tmpdir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf for rendering: %w", err)
	}

	dpi := p.DPI
	if dpi <= 0 {
		dpi = 200
	}

	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", fmt.Sprint(dpi), in, filepath.Join(dir, "page"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rendered pages: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "page") && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(names)

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read rendered page %s: %w", name, err)
		}
		pages = append(pages, b)
	}
	return pages, nil
}
