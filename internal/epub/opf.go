package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

const containerPath = "META-INF/container.xml"

// readXML parses data leniently: HTML entities, unclosed elements and
// non-UTF-8 encoding declarations are all accepted.
func readXML(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	doc.ReadSettings.Entity = xml.HTMLEntity
	if err := doc.ReadFromBytes(bytes.TrimLeft(data, "\ufeff \t\r\n")); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("no root element")
	}
	return doc, nil
}

// findLocal returns the first descendant of el (depth-first, el included)
// whose local name is tag, regardless of namespace prefix.
func findLocal(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	if strings.EqualFold(el.Tag, tag) {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findLocal(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// childrenLocal returns the direct children of el whose local name is tag.
func childrenLocal(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if strings.EqualFold(c.Tag, tag) {
			out = append(out, c)
		}
	}
	return out
}

// attrLocal returns the value of the attribute whose local name is key.
func attrLocal(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Value
		}
	}
	return ""
}

// textOf returns all character data below el with whitespace collapsed.
func textOf(el *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
				b.WriteByte(' ')
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return strings.Join(strings.Fields(b.String()), " ")
}

// parseContainer extracts the OPF path from container.xml.
func parseContainer(a *Archive) (string, error) {
	data, err := a.ReadFile(containerPath)
	if err != nil {
		return "", &ParseError{Op: "container", Path: containerPath, Err: ErrMissingContainer}
	}

	doc, err := readXML(data)
	if err != nil {
		return "", &ParseError{Op: "container", Path: containerPath, Err: wrapCause(ErrMissingContainer, err)}
	}

	rootfile := findLocal(doc.Root(), "rootfile")
	if rootfile == nil {
		return "", &ParseError{Op: "container", Path: containerPath, Err: ErrMissingOPF}
	}
	full := strings.TrimSpace(attrLocal(rootfile, "full-path"))
	opfPath := resolveHref("", full)
	if opfPath == "" {
		return "", &ParseError{Op: "container", Path: containerPath, Err: ErrMissingOPF}
	}
	return opfPath, nil
}

// resolvePackage locates and parses the OPF package document.
func resolvePackage(a *Archive) (*Package, error) {
	opfPath, err := parseContainer(a)
	if err != nil {
		return nil, err
	}

	resolved, ok := a.Resolve(opfPath)
	if !ok {
		return nil, &ParseError{Op: "opf", Path: opfPath, Err: ErrMissingOPF}
	}
	data, err := a.ReadFile(resolved)
	if err != nil {
		return nil, &ParseError{Op: "opf", Path: opfPath, Err: ErrMissingOPF}
	}

	pkg, err := ParseOPF(data, resolved)
	if err != nil {
		return nil, &ParseError{Op: "opf", Path: resolved, Err: err}
	}
	return pkg, nil
}

// ParseOPF parses an OPF file. opfPath is the archive path of the document;
// manifest hrefs are resolved against its directory.
func ParseOPF(content []byte, opfPath string) (*Package, error) {
	doc, err := readXML(content)
	if err != nil {
		return nil, wrapCause(ErrMalformedOPF, err)
	}
	root := doc.Root()
	opfDir := dirOf(opfPath)

	metadataEl := findLocal(root, "metadata")
	if metadataEl == nil {
		return nil, fmt.Errorf("%w: no <metadata> element", ErrMalformedOPF)
	}
	md, err := parseMetadata(metadataEl)
	if err != nil {
		return nil, err
	}

	manifestEl := findLocal(root, "manifest")
	if manifestEl == nil {
		return nil, fmt.Errorf("%w: no <manifest> element", ErrMalformedOPF)
	}
	spineEl := findLocal(root, "spine")
	if spineEl == nil {
		return nil, fmt.Errorf("%w: no <spine> element", ErrMalformedOPF)
	}

	pkg := &Package{
		Path:     opfPath,
		Metadata: md,
		Manifest: make(map[string]ManifestItem),
		TOCID:    strings.TrimSpace(attrLocal(spineEl, "toc")),
	}

	for _, item := range childrenLocal(manifestEl, "item") {
		id := strings.TrimSpace(attrLocal(item, "id"))
		if id == "" {
			continue
		}
		if _, dup := pkg.Manifest[id]; dup {
			continue
		}
		manifestItem := ManifestItem{
			ID:         id,
			Href:       resolveHref(opfDir, attrLocal(item, "href")),
			MediaType:  strings.ToLower(strings.TrimSpace(attrLocal(item, "media-type"))),
			Properties: strings.Fields(attrLocal(item, "properties")),
		}
		pkg.Manifest[id] = manifestItem
		pkg.ManifestOrder = append(pkg.ManifestOrder, id)
	}

	for _, ref := range childrenLocal(spineEl, "itemref") {
		idref := strings.TrimSpace(attrLocal(ref, "idref"))
		if idref == "" {
			continue
		}
		pkg.Spine = append(pkg.Spine, SpineItem{
			IDRef:  idref,
			Linear: attrLocal(ref, "linear") != "no",
		})
	}

	return pkg, nil
}

// parseMetadata reads the Dublin Core fields used by Book.
func parseMetadata(el *etree.Element) (Metadata, error) {
	md := Metadata{
		Creator:  "Unknown",
		Language: "en",
	}

	first := func(tag string) string {
		for _, c := range el.ChildElements() {
			if !strings.EqualFold(c.Tag, tag) {
				continue
			}
			if v := textOf(c); v != "" {
				return v
			}
		}
		return ""
	}

	md.Title = first("title")
	if md.Title == "" {
		return md, ErrMissingTitle
	}
	if v := first("creator"); v != "" {
		md.Creator = v
	}
	if v := first("language"); v != "" {
		md.Language = v
	}
	md.Identifier = first("identifier")
	md.Publisher = first("publisher")
	md.Description = first("description")

	for _, m := range childrenLocal(el, "meta") {
		if attrLocal(m, "name") == "cover" {
			if id := strings.TrimSpace(attrLocal(m, "content")); id != "" {
				md.CoverID = id
				break
			}
		}
	}

	return md, nil
}

// navDocumentPath returns the archive path of the table of contents document:
// the NCX named by the spine toc attribute, else the EPUB 3 nav document.
func (p *Package) navDocumentPath() (string, bool) {
	if p.TOCID != "" {
		if item, ok := p.Manifest[p.TOCID]; ok && item.Href != "" {
			return item.Href, true
		}
	}
	for _, id := range p.ManifestOrder {
		item := p.Manifest[id]
		if item.HasProperty("nav") && item.Href != "" {
			return item.Href, true
		}
	}
	return "", false
}
