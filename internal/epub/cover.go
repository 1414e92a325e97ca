package epub

import (
	"bytes"
	"strings"
)

// CoverInfo holds information about the detected cover image.
type CoverInfo struct {
	ManifestID      string
	Href            string
	MediaType       string
	DetectionMethod string // "properties" or "meta"
}

// DetectCover finds the manifest item marked as the cover image.
// Methods are tried in priority order:
//  1. properties="cover-image" (EPUB 3.0)
//  2. meta name="cover" (EPUB 2.0)
//
// Only image/* items qualify. Returns nil if no cover is marked.
func (p *Package) DetectCover() *CoverInfo {
	for _, id := range p.ManifestOrder {
		item := p.Manifest[id]
		if item.HasProperty("cover-image") && strings.HasPrefix(item.MediaType, "image/") {
			return &CoverInfo{
				ManifestID:      item.ID,
				Href:            item.Href,
				MediaType:       item.MediaType,
				DetectionMethod: "properties",
			}
		}
	}

	if p.Metadata.CoverID != "" {
		if item, ok := p.Manifest[p.Metadata.CoverID]; ok && strings.HasPrefix(item.MediaType, "image/") {
			return &CoverInfo{
				ManifestID:      item.ID,
				Href:            item.Href,
				MediaType:       item.MediaType,
				DetectionMethod: "meta",
			}
		}
	}

	return nil
}

// resolveCover returns the cover bytes and whether they look decodable.
func resolveCover(a *Archive, p *Package) (data []byte, mediaType string, decodable bool) {
	info := p.DetectCover()
	if info == nil {
		return nil, "", false
	}
	raw, err := a.ReadFile(info.Href)
	if err != nil || len(raw) == 0 {
		return nil, "", false
	}
	_, err = decodeImage(raw)
	return bytes.Clone(raw), info.MediaType, err == nil
}
