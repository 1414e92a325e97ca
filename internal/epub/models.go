package epub

// Package represents the parsed OPF package document
type Package struct {
	Path          string // archive path of the OPF file
	Metadata      Metadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // manifest ids in document order
	Spine         []SpineItem
	TOCID         string // spine toc attribute (EPUB 2.0 NCX manifest id)
}

// Metadata represents the metadata section of the OPF
type Metadata struct {
	Title       string
	Creator     string
	Language    string
	Identifier  string
	Publisher   string
	Description string
	CoverID     string // EPUB 2.0 cover image manifest item ID (from meta name="cover")
}

// ManifestItem represents an item in the manifest
type ManifestItem struct {
	ID         string
	Href       string // archive-relative and percent-decoded
	MediaType  string
	Properties []string
}

// HasProperty reports whether the item carries the given manifest property.
func (m ManifestItem) HasProperty(prop string) bool {
	for _, p := range m.Properties {
		if p == prop {
			return true
		}
	}
	return false
}

// SpineItem represents an item reference in the spine
type SpineItem struct {
	IDRef  string
	Linear bool
}

// NavTarget is one flattened table of contents entry.
type NavTarget struct {
	Title     string // empty when the TOC entry has no label
	Href      string // fragment-free archive path
	Fragment  string // fragment identifier (without #)
	PlayOrder int
}

// Book is a fully parsed EPUB. It owns copies of every byte slice it holds and
// is not modified after CreateBook* returns.
type Book struct {
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	Language       string    `json:"language"`
	Identifier     string    `json:"identifier,omitempty"`
	Publisher      string    `json:"publisher,omitempty"`
	Description    string    `json:"description,omitempty"`
	CoverImage     []byte    `json:"coverImage,omitempty"`
	CoverMediaType string    `json:"coverMediaType,omitempty"`
	CoverDecodable bool      `json:"coverDecodable,omitempty"`
	Chapters       []Chapter `json:"chapters"`
	Images         []Image   `json:"images"`
}

// HasCover reports whether a cover image was resolved.
func (b *Book) HasCover() bool {
	return len(b.CoverImage) > 0
}

// Image returns the catalogued image stored at path.
func (b *Book) Image(path string) (Image, bool) {
	for _, img := range b.Images {
		if img.Path == path {
			return img, true
		}
	}
	return Image{}, false
}

// Chapter is one assembled chapter. Body is linear text with paragraphs separated
// by blank lines and image tokens on their own paragraphs.
type Chapter struct {
	SourceURL string `json:"url"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Index     int    `json:"index"`
}

// Image is a catalogued image, unique by Path within a Book.
type Image struct {
	Path      string `json:"path"`
	Data      []byte `json:"data"`
	MediaType string `json:"mediaType,omitempty"`
}
