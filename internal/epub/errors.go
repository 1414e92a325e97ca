package epub

import (
	"errors"
	"fmt"
)

var (
	ErrCorruptArchive   = errors.New("epub: corrupt zip archive")
	ErrEmptyArchive     = errors.New("epub: zip archive has no entries")
	ErrMissingContainer = errors.New("epub: META-INF/container.xml missing or unreadable")
	ErrMissingOPF       = errors.New("epub: OPF package document not found")
	ErrMalformedOPF     = errors.New("epub: malformed OPF package document")
	ErrMissingTitle     = errors.New("epub: OPF metadata has no dc:title")
	ErrFileNotFound     = errors.New("epub: file not found in archive")
)

// ParseError is returned for every fatal failure while opening a book.
// Err is one of the sentinel errors above, possibly wrapping a cause.
type ParseError struct {
	Op   string // "open", "container", "opf"
	Path string // archive path involved, if any
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// wrapCause joins a sentinel with the underlying cause so both match errors.Is.
func wrapCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
