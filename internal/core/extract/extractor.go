// Package extract normalizes heterogeneous document formats into plain
// text. Each file resolves to one strategy; PDFs fall back from native
// text-layer extraction to per-page OCR when the text layer is missing.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/docbot-labs/docbot/internal/core"
)

var _ core.DocumentExtractor = (*Extractor)(nil)

// OCREngine recognizes text in a raster image. Implementations must
// release any engine handle they open before returning.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// PageRenderer rasterizes each page of a PDF for OCR.
type PageRenderer interface {
	RenderPages(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Extractor implements core.DocumentExtractor on docconv plus an OCR
// fallback chain.
type Extractor struct {
	ocr        OCREngine
	render     PageRenderer
	minTextLen int
}

// New builds an extractor. minTextLen is the threshold below which a
// result counts as empty (scanned PDF detection and the terminal
// EmptyOrTooShort check both use it).
func New(ocr OCREngine, render PageRenderer, minTextLen int) *Extractor {
	if minTextLen <= 0 {
		minTextLen = 20
	}
	return &Extractor{ocr: ocr, render: render, minTextLen: minTextLen}
}

// Extract converts data into normalized text or fails with a classified
// extraction error.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	switch Resolve(contentType, filename) {
	case StrategyPdf:
		return e.extractPdf(ctx, data, filename)
	case StrategyImage:
		return e.extractImage(ctx, data, filename)
	case StrategyWord:
		return e.extractWord(ctx, data, contentType, filename)
	case StrategyText:
		return e.finish(string(data), filename)
	case StrategyCloudDoc:
		return "", &Error{
			Kind: KindUnsupportedFormat,
			Msg:  "provider-native document must be exported to PDF or plain text before extraction",
		}
	default:
		return "", unsupported(filename)
	}
}

// extractPdf tries the native text layer first. An empty or sub-minimum
// result indicates a scanned PDF; each page is then rendered and OCRed,
// page results joined by a blank line.
func (e *Extractor) extractPdf(ctx context.Context, data []byte, filename string) (string, error) {
	text, nativeErr := convert(data, MimePdf)
	if nativeErr == nil && e.longEnough(text) {
		return e.finish(text, filename)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pages, err := e.render.RenderPages(ctx, data)
	if err != nil {
		if nativeErr != nil {
			return "", &Error{Kind: KindCorruptFile, Msg: "could not parse PDF", Err: nativeErr}
		}
		return "", tooShort(filename)
	}

	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		pageText, err := e.ocr.Recognize(ctx, page)
		if err != nil {
			return "", &Error{Kind: KindEmptyOrTooShort, Msg: "OCR failed for " + filename, Err: err}
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			parts = append(parts, pageText)
		}
	}
	return e.finish(strings.Join(parts, "\n\n"), filename)
}

func (e *Extractor) extractImage(ctx context.Context, data []byte, filename string) (string, error) {
	text, err := e.ocr.Recognize(ctx, data)
	if err != nil {
		return "", &Error{Kind: KindEmptyOrTooShort, Msg: "OCR failed for " + filename, Err: err}
	}
	return e.finish(text, filename)
}

// extractWord validates the container before handing the bytes to the
// structure-aware reader, so a corrupt file gets a precise message
// instead of a generic parser failure.
func (e *Extractor) extractWord(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mime := contentType
	if mime != MimeDocx && mime != MimeDoc {
		mime = wordMimeByMagic(data, filename)
	}

	if mime == MimeDocx {
		if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
			return "", &Error{Kind: KindCorruptFile, Msg: "not a valid Word document archive (corrupt or truncated .docx)", Err: err}
		}
	} else if !hasOleHeader(data) {
		return "", &Error{Kind: KindCorruptFile, Msg: "not a valid legacy Word document (bad file header)"}
	}

	text, err := convert(data, mime)
	if err != nil {
		return "", &Error{Kind: KindCorruptFile, Msg: "could not read Word document " + filename, Err: err}
	}
	return e.finish(text, filename)
}

// finish applies normalization and the terminal length check shared by
// every strategy.
func (e *Extractor) finish(text, filename string) (string, error) {
	text = normalize(text)
	if !e.longEnough(text) {
		return "", tooShort(filename)
	}
	return text, nil
}

func (e *Extractor) longEnough(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= e.minTextLen
}

func convert(data []byte, mimeType string) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

// normalize collapses blank-heavy extractor output into single-spaced
// lines so chunk boundaries are stable across parsers.
func normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// wordMimeByMagic picks the Word flavor when the declared MIME type is
// ambiguous: zip magic means OOXML, anything else is treated as legacy.
func wordMimeByMagic(data []byte, filename string) string {
	if len(data) >= 2 && data[0] == 'P' && data[1] == 'K' {
		return MimeDocx
	}
	if strings.HasSuffix(strings.ToLower(filename), ".docx") {
		return MimeDocx
	}
	return MimeDoc
}

func hasOleHeader(data []byte) bool {
	magic := []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	return len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic)
}
