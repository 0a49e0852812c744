package core

import (
	"context"
)

// DocumentExtractor converts a raw file buffer plus declared MIME type
// into one normalized text string. The contentType hint plus filename
// extension select the parsing strategy; the result is guaranteed
// non-trivial (a minimum length is enforced) or an extraction error is
// returned.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType, filename string) (string, error)
}
