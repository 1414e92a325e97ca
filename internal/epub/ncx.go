package epub

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
)

// resolveNavigation returns the flattened table of contents of pkg, or nil
// when the book has no usable TOC. TOC problems are never fatal.
func resolveNavigation(a *Archive, pkg *Package, logger *slog.Logger) []NavTarget {
	tocPath, ok := pkg.navDocumentPath()
	if !ok {
		return nil
	}
	data, err := a.ReadFile(tocPath)
	if err != nil {
		logger.Warn("table of contents not found, using spine order", "path", tocPath)
		return nil
	}

	var targets []NavTarget
	if isNCX(tocPath, data) {
		targets, err = parseNCX(data, dirOf(tocPath))
	} else {
		targets, err = parseNavDocument(data, dirOf(tocPath))
	}
	if err != nil {
		logger.Warn("table of contents unparsable, using spine order", "path", tocPath, "error", err)
		return nil
	}
	if len(targets) == 0 {
		logger.Debug("table of contents is empty, using spine order", "path", tocPath)
	}
	return targets
}

func isNCX(p string, data []byte) bool {
	if strings.HasSuffix(strings.ToLower(p), ".ncx") {
		return true
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<ncx"))
}

// parseNCX flattens an EPUB 2 navMap depth-first and orders it by playOrder.
// Hrefs are resolved against ncxDir.
func parseNCX(data []byte, ncxDir string) ([]NavTarget, error) {
	doc, err := readXML(data)
	if err != nil {
		return nil, err
	}
	navMap := findLocal(doc.Root(), "navMap")
	if navMap == nil {
		return nil, fmt.Errorf("no <navMap> element")
	}

	var targets []NavTarget
	var walk func(parent *etree.Element)
	walk = func(parent *etree.Element) {
		for _, np := range childrenLocal(parent, "navPoint") {
			if t, ok := ncxTarget(np, ncxDir, len(targets)+1); ok {
				targets = append(targets, t)
			}
			walk(np)
		}
	}
	walk(navMap)

	slices.SortStableFunc(targets, func(x, y NavTarget) int {
		return x.PlayOrder - y.PlayOrder
	})
	return targets, nil
}

func ncxTarget(np *etree.Element, ncxDir string, seq int) (NavTarget, bool) {
	contents := childrenLocal(np, "content")
	if len(contents) == 0 {
		return NavTarget{}, false
	}
	content := contents[0]
	src := strings.TrimSpace(attrLocal(content, "src"))
	rawPath, fragment := splitFragment(src)
	href := resolveHref(ncxDir, rawPath)
	if href == "" {
		return NavTarget{}, false
	}

	var title string
	if labels := childrenLocal(np, "navLabel"); len(labels) > 0 {
		title = textOf(labels[0])
	}

	order := seq
	if v, err := strconv.Atoi(strings.TrimSpace(attrLocal(np, "playOrder"))); err == nil {
		order = v
	}

	return NavTarget{
		Title:     title,
		Href:      href,
		Fragment:  fragment,
		PlayOrder: order,
	}, true
}

// parseNavDocument reads the anchors of an EPUB 3 nav document in document
// order. The toc nav is preferred; otherwise the first nav element is used.
func parseNavDocument(data []byte, navDir string) ([]NavTarget, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decodeHTML(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nav document: %w", err)
	}

	navs := doc.Find("nav")
	if navs.Length() == 0 {
		return nil, fmt.Errorf("no <nav> element")
	}
	toc := navs.FilterFunction(func(_ int, s *goquery.Selection) bool {
		typ, _ := s.Attr("epub:type")
		return slices.Contains(strings.Fields(typ), "toc")
	}).First()
	if toc.Length() == 0 {
		toc = navs.First()
	}

	var targets []NavTarget
	toc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rawPath, fragment := splitFragment(strings.TrimSpace(href))
		resolved := resolveHref(navDir, rawPath)
		if resolved == "" {
			return
		}
		targets = append(targets, NavTarget{
			Title:     strings.Join(strings.Fields(s.Text()), " "),
			Href:      resolved,
			Fragment:  fragment,
			PlayOrder: len(targets) + 1,
		})
	})
	return targets, nil
}
