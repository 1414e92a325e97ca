package epub

import (
	"html"
	"math"
	"regexp"
	"strconv"
)

// DefaultAspectRatio is used for images that are missing or cannot be decoded.
const DefaultAspectRatio = 1.45

var (
	imageTokenRe = regexp.MustCompile(`^\s*<img\s+([^<>]*?)\s*/?>\s*$`)
	tokenAttrRe  = regexp.MustCompile(`([a-zA-Z_][-a-zA-Z0-9_:.]*)\s*=\s*"([^"]*)"`)
)

// ImageToken is the inline marker for an image inside a chapter body.
// AspectRatio is height divided by width.
type ImageToken struct {
	Path        string
	AspectRatio float64
}

// String encodes the token as <img src="PATH" yrel="R.RR">.
func (t ImageToken) String() string {
	return `<img src="` + html.EscapeString(t.Path) + `" yrel="` +
		strconv.FormatFloat(t.AspectRatio, 'f', 2, 64) + `">`
}

// ParseImageToken decodes a paragraph that consists of a single image token.
// Text without both a src and a numeric yrel attribute is not a token.
func ParseImageToken(s string) (ImageToken, bool) {
	m := imageTokenRe.FindStringSubmatch(s)
	if m == nil {
		return ImageToken{}, false
	}

	var src, yrel string
	var hasSrc, hasYrel bool
	for _, a := range tokenAttrRe.FindAllStringSubmatch(m[1], -1) {
		switch a[1] {
		case "src":
			src, hasSrc = html.UnescapeString(a[2]), true
		case "yrel":
			yrel, hasYrel = a[2], true
		}
	}
	if !hasSrc || !hasYrel || src == "" {
		return ImageToken{}, false
	}

	ratio, err := strconv.ParseFloat(yrel, 64)
	if err != nil || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return ImageToken{}, false
	}

	return ImageToken{Path: src, AspectRatio: ratio}, true
}
