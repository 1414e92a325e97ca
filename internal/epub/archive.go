package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Archive holds every file of an EPUB container, fully decompressed and keyed
// by normalized archive path. It is read-only after construction.
type Archive struct {
	files  map[string][]byte
	folded map[string]string // lower-cased path -> path
	names  []string
}

// OpenArchiveFile reads the EPUB at path into memory.
func OpenArchiveFile(name string, logger *slog.Logger) (*Archive, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read EPUB: %w", err)
	}
	return OpenArchiveBytes(data, logger)
}

// OpenArchiveBytes reads an in-memory EPUB.
func OpenArchiveBytes(data []byte, logger *slog.Logger) (*Archive, error) {
	return OpenArchive(bytes.NewReader(data), int64(len(data)), logger)
}

// OpenArchive reads every non-directory entry of the zip in r.
// Entries that fail to decompress are skipped; the archive itself is only
// rejected when its central directory is unreadable or it has no entries.
func OpenArchive(r io.ReaderAt, size int64, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = discardLogger
	}

	zr, err := zip.NewReader(r, size)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, wrapCause(ErrCorruptArchive, err)
	}
	if len(zr.File) == 0 {
		return nil, ErrEmptyArchive
	}

	a := &Archive{
		files:  make(map[string][]byte, len(zr.File)),
		folded: make(map[string]string, len(zr.File)),
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := normalizePath(f.Name)
		if name == "" {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			logger.Warn("skipping unreadable archive entry", "entry", f.Name, "error", err)
			continue
		}
		if _, dup := a.files[name]; dup {
			continue
		}
		a.files[name] = data
		a.names = append(a.names, name)
		lower := strings.ToLower(name)
		if _, ok := a.folded[lower]; !ok {
			a.folded[lower] = name
		}
	}

	if len(a.files) == 0 {
		return nil, ErrEmptyArchive
	}
	sort.Strings(a.names)

	return a, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// Names returns a copy of all archive paths in lexical order.
func (a *Archive) Names() []string {
	return slices.Clone(a.names)
}

// Len returns the number of files in the archive.
func (a *Archive) Len() int {
	return len(a.files)
}

// ReadFile returns the contents of the file at name. The lookup tolerates
// percent-encoded names and differences in letter case.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if key, ok := a.lookup(name); ok {
		return a.files[key], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// Has reports whether ReadFile would find name.
func (a *Archive) Has(name string) bool {
	_, ok := a.lookup(name)
	return ok
}

// Resolve returns the canonical archive path for name.
func (a *Archive) Resolve(name string) (string, bool) {
	return a.lookup(name)
}

func (a *Archive) lookup(name string) (string, bool) {
	candidates := []string{normalizePath(name)}
	if decoded, err := url.PathUnescape(name); err == nil && decoded != name {
		candidates = append(candidates, normalizePath(decoded))
	}

	for _, c := range candidates {
		if _, ok := a.files[c]; ok {
			return c, true
		}
	}
	for _, c := range candidates {
		if key, ok := a.folded[strings.ToLower(c)]; ok {
			return key, true
		}
	}
	return "", false
}

// normalizePath converts a zip entry name or resolved href into the canonical
// archive form: forward slashes, no leading slash, no dot segments, NFC.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = norm.NFC.String(p)
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	if p == "." || p == ".." {
		return ""
	}
	return p
}

// resolveHref resolves a document-relative reference against baseDir and
// returns a normalized archive path. Query and fragment are dropped, the
// reference is percent-decoded, and any prefix escaping the archive root is
// stripped.
func resolveHref(baseDir, ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}
	if strings.HasPrefix(ref, "/") {
		return normalizePath(ref)
	}
	if baseDir == "" || baseDir == "." {
		return normalizePath(ref)
	}
	return normalizePath(path.Join(baseDir, ref))
}

// dirOf returns the archive directory of p, or "" for root-level files.
func dirOf(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// splitFragment splits a source path into the path and fragment identifier.
func splitFragment(src string) (p, fragment string) {
	if src == "" {
		return "", ""
	}
	parts := strings.SplitN(src, "#", 2)
	p = parts[0]
	if len(parts) == 2 {
		fragment = parts[1]
	}
	return p, fragment
}
