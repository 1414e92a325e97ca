package epub

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
)

var discardLogger = slog.New(slog.DiscardHandler)

// Option configures CreateBook*.
type Option func(*options)

type options struct {
	useTOC bool
	logger *slog.Logger
}

func defaultOptions() *options {
	return &options{
		useTOC: true,
		logger: discardLogger,
	}
}

// WithTOC selects whether chapters follow the table of contents (the default)
// or the spine alone.
func WithTOC(use bool) Option {
	return func(o *options) {
		o.useTOC = use
	}
}

// WithLogger sets the logger that receives diagnostics for recoverable
// problems such as unreadable chapters or a broken table of contents.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// CreateBookFromFile parses the EPUB at path.
func CreateBookFromFile(path string, opts ...Option) (*Book, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	a, err := OpenArchiveFile(path, o.logger)
	if err != nil {
		return nil, &ParseError{Op: "open", Path: path, Err: err}
	}
	return newBook(a, o)
}

// CreateBookFromReader parses an EPUB read in full from r.
func CreateBookFromReader(r io.Reader, opts ...Option) (*Book, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Op: "open", Err: fmt.Errorf("failed to read EPUB: %w", err)}
	}
	return CreateBookFromBytes(data, opts...)
}

// CreateBookFromBytes parses an in-memory EPUB.
func CreateBookFromBytes(data []byte, opts ...Option) (*Book, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	a, err := OpenArchive(bytes.NewReader(data), int64(len(data)), o.logger)
	if err != nil {
		return nil, &ParseError{Op: "open", Err: err}
	}
	return newBook(a, o)
}

// NewBook builds a Book from an already opened archive.
func NewBook(a *Archive, opts ...Option) (*Book, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newBook(a, o)
}

func newBook(a *Archive, o *options) (*Book, error) {
	pkg, err := resolvePackage(a)
	if err != nil {
		return nil, err
	}

	var nav []NavTarget
	if o.useTOC {
		nav = resolveNavigation(a, pkg, o.logger)
	}

	images := CatalogImages(a, pkg, o.logger)
	chapters := newAssembler(a, pkg, nav, images, o.logger).assemble()
	cover, coverType, decodable := resolveCover(a, pkg)

	o.logger.Debug("parsed book",
		"title", pkg.Metadata.Title,
		"chapters", len(chapters),
		"toc_entries", len(nav),
		"cover", cover != nil,
	)

	return &Book{
		Title:          pkg.Metadata.Title,
		Author:         pkg.Metadata.Creator,
		Language:       pkg.Metadata.Language,
		Identifier:     pkg.Metadata.Identifier,
		Publisher:      pkg.Metadata.Publisher,
		Description:    pkg.Metadata.Description,
		CoverImage:     cover,
		CoverMediaType: coverType,
		CoverDecodable: decodable,
		Chapters:       chapters,
		Images:         images.Images(),
	}, nil
}
