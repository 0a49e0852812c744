package extract

import (
	"path/filepath"
	"strings"
)

// Strategy is the extraction branch for a file, resolved once from the
// declared MIME type and the filename extension.
type Strategy int

const (
	StrategyUnsupported Strategy = iota
	StrategyPdf
	StrategyImage
	StrategyWord
	StrategyText
	StrategyCloudDoc
)

// MIME types handled by name rather than prefix.
const (
	MimePdf       = "application/pdf"
	MimeDocx      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDoc       = "application/msword"
	MimeText      = "text/plain"
	MimeGoogleDoc = "application/vnd.google-apps.document"
)

// Resolve picks the extraction strategy. MIME type wins; the extension
// breaks ties when the MIME type is ambiguous (octet-stream, empty), so
// a Word file uploaded without a usable content type still extracts.
func Resolve(contentType, filename string) Strategy {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch {
	case ct == MimePdf:
		return StrategyPdf
	case strings.HasPrefix(ct, "image/"):
		return StrategyImage
	case ct == MimeDocx, ct == MimeDoc:
		return StrategyWord
	case ct == MimeText:
		return StrategyText
	case strings.HasPrefix(ct, "application/vnd.google-apps."):
		return StrategyCloudDoc
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return StrategyPdf
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		return StrategyImage
	case ".doc", ".docx":
		return StrategyWord
	case ".txt", ".md":
		return StrategyText
	}

	return StrategyUnsupported
}
