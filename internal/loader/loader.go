// Package loader opens books through the parse cache.
package loader

import (
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/Pool-Of-Tears/Myne-sub000/internal/cache"
	"github.com/Pool-Of-Tears/Myne-sub000/internal/epub"
)

// Loader parses EPUB files, consulting and filling a cache. Concurrent loads
// of the same source share one parse.
type Loader struct {
	cache  *cache.Cache
	logger *slog.Logger
	group  singleflight.Group
}

// New returns a Loader. A nil cache disables caching.
func New(c *cache.Cache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{cache: c, logger: logger}
}

// Load returns the book at path, from the cache when possible. Cache entries
// hold table-of-contents chapters only, so spine-only loads always parse.
func (l *Loader) Load(path string, useTOC bool) (*epub.Book, error) {
	key := cache.KeyFor(path)
	cached := l.cache != nil && useTOC
	if cached {
		if book, ok := l.cache.Get(key); ok {
			l.logger.Debug("cache hit", "key", key, "path", path)
			return book, nil
		}
	}

	v, err, shared := l.group.Do(key+"\x00"+strconv.FormatBool(useTOC), func() (any, error) {
		book, err := epub.CreateBookFromFile(path, epub.WithTOC(useTOC), epub.WithLogger(l.logger))
		if err != nil {
			return nil, err
		}
		if cached {
			if err := l.cache.Put(key, book); err != nil {
				l.logger.Warn("failed to cache book", "key", key, "error", err)
			}
		}
		return book, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.Debug("joined in-flight load", "key", key)
	}
	return v.(*epub.Book), nil
}
