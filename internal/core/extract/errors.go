package extract

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures. These are surfaced to the caller
// with a specific message and are never retried automatically.
type Kind int

const (
	KindUnsupportedFormat Kind = iota
	KindEmptyOrTooShort
	KindCorruptFile
)

// Error is a classified extraction failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an extraction Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == kind
}

func unsupported(filename string) *Error {
	return &Error{
		Kind: KindUnsupportedFormat,
		Msg:  fmt.Sprintf("Unsupported file type for %s. Supported types: PDF, Word documents and images", filename),
	}
}

func tooShort(filename string) *Error {
	return &Error{
		Kind: KindEmptyOrTooShort,
		Msg:  fmt.Sprintf("No readable text found in %s", filename),
	}
}
