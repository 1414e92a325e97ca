package epub

import (
	"bytes"
	"image"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// imageExtensions are scanned for images the manifest does not declare.
var imageExtensions = map[string]string{
	".png":  "image/png",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".raw":  "image/x-raw",
}

// ImageResolver maps image references found in content documents to
// catalogued images.
type ImageResolver interface {
	// ResolveImage returns the catalogue path for an archive path.
	ResolveImage(p string) (string, bool)
	// AspectRatio returns height/width of the image at a catalogue path.
	AspectRatio(p string) (float64, bool)
}

// ImageCatalog is the deduplicated set of images of one book.
type ImageCatalog struct {
	archive *Archive
	logger  *slog.Logger
	images  map[string]Image
	ratios  map[string]float64
}

// CatalogImages collects every image of the book: manifest-declared images
// first, then archive entries with a known image extension that the manifest
// left out. A path is catalogued at most once and the manifest entry wins.
func CatalogImages(a *Archive, pkg *Package, logger *slog.Logger) *ImageCatalog {
	if logger == nil {
		logger = discardLogger
	}
	c := &ImageCatalog{
		archive: a,
		logger:  logger,
		images:  make(map[string]Image),
		ratios:  make(map[string]float64),
	}

	for _, id := range pkg.ManifestOrder {
		item := pkg.Manifest[id]
		if !strings.HasPrefix(item.MediaType, "image/") {
			continue
		}
		key, ok := a.Resolve(item.Href)
		if !ok {
			logger.Warn("manifest image missing from archive", "id", item.ID, "href", item.Href)
			continue
		}
		if _, dup := c.images[key]; dup {
			continue
		}
		data, _ := a.ReadFile(key)
		c.images[key] = Image{Path: key, Data: data, MediaType: item.MediaType}
	}

	for _, name := range a.Names() {
		if _, listed := c.images[name]; listed {
			continue
		}
		mediaType, ok := imageExtensions[strings.ToLower(path.Ext(name))]
		if !ok {
			continue
		}
		data, err := a.ReadFile(name)
		if err != nil || len(data) == 0 {
			logger.Warn("skipping unlisted image", "path", name)
			continue
		}
		c.images[name] = Image{Path: name, Data: data, MediaType: mediaType}
	}

	return c
}

// ResolveImage implements ImageResolver.
func (c *ImageCatalog) ResolveImage(p string) (string, bool) {
	if _, ok := c.images[p]; ok {
		return p, true
	}
	if key, ok := c.archive.Resolve(p); ok {
		if _, ok := c.images[key]; ok {
			return key, true
		}
	}
	return "", false
}

// AspectRatio implements ImageResolver. Results are memoized per catalogue.
func (c *ImageCatalog) AspectRatio(p string) (float64, bool) {
	if r, ok := c.ratios[p]; ok {
		return r, r > 0
	}
	img, ok := c.images[p]
	if !ok {
		return 0, false
	}
	r, err := aspectRatio(img.Data)
	if err != nil {
		c.logger.Debug("image not decodable, using default aspect ratio", "path", p, "error", err)
		r = 0
	}
	c.ratios[p] = r
	return r, r > 0
}

// Images returns copies of the catalogued images sorted by path.
func (c *ImageCatalog) Images() []Image {
	out := make([]Image, 0, len(c.images))
	for _, img := range c.images {
		img.Data = bytes.Clone(img.Data)
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// aspectRatio returns height/width of the fully decoded image, so truncated
// files with an intact header are rejected. JPEG EXIF orientation is applied.
func aspectRatio(data []byte) (float64, error) {
	img, err := decodeImage(data)
	if err != nil {
		return 0, err
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w <= 0 || h <= 0 {
		return 0, image.ErrFormat
	}
	return float64(h) / float64(w), nil
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}
