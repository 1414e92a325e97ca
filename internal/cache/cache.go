// Package cache stores parsed books on disk so repeated opens skip parsing.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Pool-Of-Tears/Myne-sub000/internal/epub"
)

// FormatVersion is bumped whenever the serialized Book layout changes.
const FormatVersion = 1

const (
	versionFile = "version"
	entryExt    = ".json"
)

// ErrInvalidKey is returned by Put for keys that cannot name a cache file.
var ErrInvalidKey = errors.New("cache: invalid key")

// Entry is the on-disk form of one cached book.
type Entry struct {
	SourceKey     string     `json:"source_key"`
	FormatVersion int        `json:"format_version"`
	Book          *epub.Book `json:"book"`
}

// Cache is a directory of <key>.json entries plus a version marker.
// Reads of different keys do not lock; concurrent writes to one key are
// last-writer-wins.
type Cache struct {
	dir     string
	version int
	logger  *slog.Logger
}

type registryKey struct {
	dir     string
	version int
}

type registration struct {
	once  sync.Once
	cache *Cache
	err   error
}

var (
	registryMu sync.Mutex
	registry   = make(map[registryKey]*registration)
)

// Open returns the cache rooted at dir. The version check runs once per
// (dir, version) in the process: a directory written by another format version,
// or holding entries without a marker, is wiped before it is used.
func Open(dir string, version int, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache dir: %w", err)
	}

	k := registryKey{abs, version}
	registryMu.Lock()
	reg, ok := registry[k]
	if !ok {
		reg = &registration{}
		registry[k] = reg
	}
	registryMu.Unlock()

	reg.once.Do(func() {
		c := &Cache{dir: abs, version: version, logger: logger}
		if reg.err = c.init(); reg.err == nil {
			reg.cache = c
		}
	})
	if reg.err != nil {
		registryMu.Lock()
		delete(registry, k)
		registryMu.Unlock()
	}
	return reg.cache, reg.err
}

func (c *Cache) init() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	marker, err := os.ReadFile(filepath.Join(c.dir, versionFile))
	switch {
	case err == nil:
		v, perr := strconv.Atoi(strings.TrimSpace(string(marker)))
		if perr == nil && v == c.version {
			return nil
		}
		c.logger.Info("cache format changed, clearing", "dir", c.dir, "found", strings.TrimSpace(string(marker)), "want", c.version)
	case errors.Is(err, os.ErrNotExist):
		entries, rerr := os.ReadDir(c.dir)
		if rerr != nil {
			return fmt.Errorf("failed to read cache dir: %w", rerr)
		}
		if len(entries) == 0 {
			return c.writeMarker()
		}
		c.logger.Info("cache has no version marker, clearing", "dir", c.dir)
	default:
		return fmt.Errorf("failed to read cache version: %w", err)
	}
	return c.Clear()
}

func (c *Cache) writeMarker() error {
	if err := os.WriteFile(filepath.Join(c.dir, versionFile), []byte(strconv.Itoa(c.version)), 0o644); err != nil {
		return fmt.Errorf("failed to write cache version: %w", err)
	}
	return nil
}

// Dir returns the absolute cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// KeyFor derives the cache key of a source file: its base name without
// extension.
func KeyFor(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && key != versionFile &&
		!strings.ContainsAny(key, `/\`)
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// Get returns the cached book for key. Missing, unreadable, corrupt and
// other-version entries are all misses.
func (c *Cache) Get(key string) (*epub.Book, bool) {
	if !validKey(key) {
		return nil, false
	}
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to read cache entry", "key", key, "error", err)
		}
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	if e.FormatVersion != c.version || e.SourceKey != key || e.Book == nil {
		c.logger.Debug("stale cache entry", "key", key, "version", e.FormatVersion)
		return nil, false
	}
	return e.Book, true
}

// Put stores book under key. The entry is written to a temporary file and
// renamed into place so readers never observe a partial entry.
func (c *Cache) Put(key string, book *epub.Book) error {
	if !validKey(key) || book == nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := json.Marshal(Entry{SourceKey: key, FormatVersion: c.version, Book: book})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.entryPath(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry and rewrites the version marker.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	return c.writeMarker()
}

// Len reports the number of entries currently stored.
func (c *Cache) Len() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), entryExt) && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n
}
