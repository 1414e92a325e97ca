package epub

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// selfClosingRe matches XHTML self-closing tags such as <a id="x"/>.
var selfClosingRe = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9:._-]*)(\s[^<>]*?)?\s*/>`)

// voidElements never have content, so their self-closing form is already
// understood by an HTML parser.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true, "image": true,
}

// xmlEncodingRe reads the encoding label of an XML declaration.
var xmlEncodingRe = regexp.MustCompile(`^(?:\x{feff})?\s*<\?xml\s[^>]*?encoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// multiBlankRe collapses runs of blank lines into a single paragraph break.
var multiBlankRe = regexp.MustCompile(`\n{3,}`)

// Content is a parsed XHTML content document.
type Content struct {
	Path string            // archive path, used to resolve relative image sources
	Doc  *goquery.Document // lenient HTML parse of the file

	body *html.Node
	pos  map[*html.Node]int // pre-order position within body
	ids  map[string]int     // fragment id -> position of its first occurrence
	end  int                // one past the last position
}

// Section is the transducer output for one content range.
type Section struct {
	Heading string // first h1-h6 of the range; empty when there is none
	Text    string
}

// FragmentRange limits transduction to the document-order range that starts
// at the element with id Start (inclusive) and stops at the element with id
// End (exclusive). Empty ids mean the start or end of the file.
type FragmentRange struct {
	Start string
	End   string
}

// LoadContent parses an XHTML content file. Unclosed tags, missing
// namespaces and lying encoding declarations are tolerated.
func LoadContent(p string, data []byte) (*Content, error) {
	data = expandSelfClosing(decodeHTML(data))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XHTML: %w", err)
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}

	c := &Content{
		Path: p,
		Doc:  doc,
		body: body.Nodes[0],
		pos:  make(map[*html.Node]int),
		ids:  make(map[string]int),
	}
	c.index(c.body)

	return c, nil
}

// index numbers every node below n in document order and records the
// first occurrence of each id.
func (c *Content) index(n *html.Node) {
	c.pos[n] = c.end
	c.end++
	if n.Type == html.ElementNode {
		id := attr(n, "id")
		if id == "" && n.DataAtom == atom.A {
			id = attr(n, "name")
		}
		if id != "" {
			if _, seen := c.ids[id]; !seen {
				c.ids[id] = c.pos[n]
			}
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.index(ch)
	}
}

// HasFragment reports whether an element with the given id exists in the body.
func (c *Content) HasFragment(id string) bool {
	_, ok := c.ids[id]
	return ok
}

// fragmentPosition returns the document position of id; the empty id is the
// start of the file.
func (c *Content) fragmentPosition(id string) (int, bool) {
	if id == "" {
		return 0, true
	}
	p, ok := c.ids[id]
	return p, ok
}

// Transduce linearizes the body (or the part of it selected by rng) into
// paragraph-separated text with image tokens. It is deterministic for a given
// document, image resolver and range.
func (c *Content) Transduce(images ImageResolver, rng FragmentRange) Section {
	t := &transducer{
		c:      c,
		images: images,
		start:  0,
		end:    c.end,
	}
	if rng.Start != "" {
		p, ok := c.ids[rng.Start]
		if !ok {
			return Section{}
		}
		t.start = p
	}
	if rng.End != "" {
		if p, ok := c.ids[rng.End]; ok {
			if p <= t.start {
				return Section{}
			}
			t.end = p
		}
	}

	t.heading = t.findHeading(c.body)

	var sec Section
	if t.heading != nil {
		sec.Heading = nodeText(t.heading)
	}
	t.block(c.body)
	sec.Text = normalizeText(t.out.String())
	return sec
}

type transducer struct {
	c       *Content
	images  ImageResolver
	start   int
	end     int
	heading *html.Node
	out     strings.Builder
}

func (t *transducer) inRange(n *html.Node) bool {
	p := t.c.pos[n]
	return p >= t.start && p < t.end
}

// findHeading returns the first h1-h6 whose text begins inside the range.
func (t *transducer) findHeading(n *html.Node) *html.Node {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type != html.ElementNode || skipped(ch) {
			continue
		}
		if isHeading(ch) {
			if first := firstText(ch); first != nil && t.inRange(first) && nodeText(ch) != "" {
				return ch
			}
			continue
		}
		if h := t.findHeading(ch); h != nil {
			return h
		}
	}
	return nil
}

// block traverses the children of a block-level container.
func (t *transducer) block(n *html.Node) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch ch.Type {
		case html.TextNode:
			if !t.inRange(ch) {
				continue
			}
			if text := strings.TrimSpace(collapseSpace(ch.Data)); text != "" {
				t.out.WriteString(text)
				t.out.WriteString("\n\n")
			}
		case html.ElementNode:
			if ch == t.heading || skipped(ch) {
				continue
			}
			switch {
			case ch.DataAtom == atom.Br:
				if t.inRange(ch) {
					t.out.WriteString("\n")
				}
			case ch.DataAtom == atom.Hr:
				if t.inRange(ch) {
					t.out.WriteString("\n\n")
				}
			case isImage(ch):
				if t.inRange(ch) {
					t.out.WriteString(t.imageToken(ch))
				}
			case ch.DataAtom == atom.P:
				t.out.WriteString(t.paragraph(ch))
			default:
				t.block(ch)
			}
		}
	}
}

// paragraph accumulates the inline content of a <p>. A blank paragraph
// contributes nothing.
func (t *transducer) paragraph(n *html.Node) string {
	var b strings.Builder
	t.inline(n, &b)

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return ""
	}
	return text + "\n\n"
}

func (t *transducer) inline(n *html.Node, b *strings.Builder) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch ch.Type {
		case html.TextNode:
			if t.inRange(ch) {
				b.WriteString(collapseSpace(ch.Data))
			}
		case html.ElementNode:
			if ch == t.heading || skipped(ch) {
				continue
			}
			switch {
			case ch.DataAtom == atom.Br:
				if t.inRange(ch) {
					b.WriteString("\n")
				}
			case isImage(ch):
				if t.inRange(ch) {
					b.WriteString(t.imageToken(ch))
				}
			default:
				t.inline(ch, b)
			}
		}
	}
}

// imageToken resolves an <img> (or SVG <image>) against the content file's
// directory and emits it as its own paragraph.
func (t *transducer) imageToken(n *html.Node) string {
	src := attr(n, "src")
	if src == "" {
		src = attr(n, "xlink:href")
	}
	if src == "" {
		src = attr(n, "href")
	}
	if src == "" || hasScheme(src) {
		// data: URIs and remote images have no archive path
		return ""
	}

	p := resolveHref(dirOf(t.c.Path), src)
	if p == "" {
		return ""
	}

	ratio := DefaultAspectRatio
	if t.images != nil {
		if canonical, ok := t.images.ResolveImage(p); ok {
			p = canonical
			if r, ok := t.images.AspectRatio(canonical); ok {
				ratio = r
			}
		}
	}

	return "\n\n" + ImageToken{Path: p, AspectRatio: ratio}.String() + "\n\n"
}

func hasScheme(s string) bool {
	i := strings.Index(s, ":")
	if i <= 0 {
		return false
	}
	for _, r := range s[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}

func isHeading(n *html.Node) bool {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

func isImage(n *html.Node) bool {
	return n.DataAtom == atom.Img || n.DataAtom == atom.Image || n.Data == "image"
}

// skipped elements never contribute text.
func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Template, atom.Title:
		return true
	}
	return false
}

func firstText(n *html.Node) *html.Node {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.TextNode && strings.TrimSpace(ch.Data) != "" {
			return ch
		}
		if ch.Type == html.ElementNode {
			if f := firstText(ch); f != nil {
				return f
			}
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// attr returns the attribute value for key. Namespaced attributes match
// either their qualified ("xlink:href") or their bare form.
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key || a.Namespace != "" && a.Namespace+":"+a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapseSpace replaces every run of white space with a single space.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			if !space {
				b.WriteByte(' ')
			}
			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}

func normalizeText(s string) string {
	return strings.TrimSpace(multiBlankRe.ReplaceAllString(s, "\n\n"))
}

// decodeHTML returns data as UTF-8. Valid UTF-8 is trusted over any encoding
// declaration. Otherwise the XML declaration is honoured, then the BOM and
// <meta charset> are sniffed.
func decodeHTML(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	var enc encoding.Encoding
	if m := xmlEncodingRe.FindSubmatch(data); m != nil {
		enc, _ = charset.Lookup(string(m[1]))
	}
	if enc == nil {
		enc, _, _ = charset.DetermineEncoding(data, "")
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

// expandSelfClosing rewrites <tag .../> into <tag ...></tag> for elements that
// are not void, so an HTML parser does not let them swallow their siblings.
func expandSelfClosing(data []byte) []byte {
	return selfClosingRe.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := selfClosingRe.FindSubmatch(m)
		tag := string(sub[1])
		local := strings.ToLower(tag)
		if i := strings.LastIndex(local, ":"); i >= 0 {
			local = local[i+1:]
		}
		if voidElements[local] {
			return m
		}
		out := make([]byte, 0, len(m)+len(tag)+3)
		out = append(out, '<')
		out = append(out, sub[1]...)
		out = append(out, sub[2]...)
		out = append(out, '>', '<', '/')
		out = append(out, sub[1]...)
		out = append(out, '>')
		return out
	})
}
