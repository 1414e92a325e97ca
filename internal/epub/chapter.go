package epub

import (
	"log/slog"
	"slices"
	"strings"
)

// chapterExtensions are the spine file types that carry readable content.
var chapterExtensions = []string{".xhtml", ".xml", ".html"}

// section is one transduced piece of a spine file before merging.
type section struct {
	url   string
	title string
	body  string
}

// assembler turns the spine, optionally split by the table of contents, into
// the final chapter list.
type assembler struct {
	archive   *Archive
	pkg       *Package
	images    ImageResolver
	logger    *slog.Logger
	targets   map[string][]NavTarget // canonical file path -> TOC targets
	bookTitle string
}

func newAssembler(a *Archive, pkg *Package, nav []NavTarget, images ImageResolver, logger *slog.Logger) *assembler {
	asm := &assembler{
		archive:   a,
		pkg:       pkg,
		images:    images,
		logger:    logger,
		targets:   make(map[string][]NavTarget),
		bookTitle: pkg.Metadata.Title,
	}

	type key struct{ href, fragment string }
	seen := make(map[key]bool)
	for _, t := range nav {
		href := t.Href
		if canonical, ok := a.Resolve(href); ok {
			href = canonical
		}
		k := key{href, t.Fragment}
		if seen[k] {
			continue
		}
		seen[k] = true
		t.Href = href
		asm.targets[href] = append(asm.targets[href], t)
	}
	return asm
}

// spineFiles resolves the spine against the manifest and keeps markup files.
func (asm *assembler) spineFiles() []string {
	var files []string
	for _, ref := range asm.pkg.Spine {
		item, ok := asm.pkg.Manifest[ref.IDRef]
		if !ok {
			asm.logger.Warn("spine item not found in manifest, skipping", "idref", ref.IDRef)
			continue
		}
		if !isChapterFile(item.Href) {
			continue
		}
		files = append(files, item.Href)
	}
	return files
}

func isChapterFile(href string) bool {
	lower := strings.ToLower(href)
	for _, ext := range chapterExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// assemble produces the ordered, merged, renumbered chapters.
func (asm *assembler) assemble() []Chapter {
	var sections []section
	for _, href := range asm.spineFiles() {
		sections = append(sections, asm.sectionsOf(href)...)
	}
	return finalizeChapters(mergeSections(sections, asm.bookTitle))
}

// sectionsOf transduces one spine file. Unreadable files yield nothing.
func (asm *assembler) sectionsOf(href string) []section {
	key, ok := asm.archive.Resolve(href)
	if !ok {
		asm.logger.Warn("spine file missing from archive, skipping", "path", href)
		return nil
	}
	data, _ := asm.archive.ReadFile(key)
	content, err := LoadContent(key, data)
	if err != nil {
		asm.logger.Warn("failed to parse content file, skipping", "path", key, "error", err)
		return nil
	}

	targets := asm.usableTargets(content, asm.targets[key])
	if len(targets) == 0 {
		sec := content.Transduce(asm.images, FragmentRange{})
		return []section{{url: key, title: sec.Heading, body: sec.Text}}
	}

	var out []section
	if first := targets[0].Fragment; first != "" {
		if p, _ := content.fragmentPosition(first); p > 0 {
			lead := content.Transduce(asm.images, FragmentRange{End: first})
			out = append(out, section{url: key, body: joinParagraphs(lead.Heading, lead.Text)})
		}
	}
	for i, t := range targets {
		rng := FragmentRange{Start: t.Fragment}
		if i+1 < len(targets) {
			rng.End = targets[i+1].Fragment
		}
		sec := content.Transduce(asm.images, rng)
		title := t.Title
		if title == "" {
			title = sec.Heading
		}
		out = append(out, section{url: key, title: title, body: sec.Text})
	}
	return out
}

// usableTargets drops targets whose fragment does not exist in the file and
// orders the rest by the document position of their anchor. For duplicate
// anchors the first occurrence in the document is used.
func (asm *assembler) usableTargets(content *Content, targets []NavTarget) []NavTarget {
	if len(targets) == 0 {
		return nil
	}
	usable := make([]NavTarget, 0, len(targets))
	for _, t := range targets {
		if t.Fragment != "" && !content.HasFragment(t.Fragment) {
			asm.logger.Debug("TOC fragment not found in content", "path", content.Path, "fragment", t.Fragment)
			continue
		}
		usable = append(usable, t)
	}
	slices.SortStableFunc(usable, func(x, y NavTarget) int {
		px, _ := content.fragmentPosition(x.Fragment)
		py, _ := content.fragmentPosition(y.Fragment)
		return px - py
	})
	return usable
}

// mergeSections attaches untitled sections to the preceding titled one.
// Untitled sections before the first titled section are prepended to it; when
// no section has a title the merged text takes the book title.
func mergeSections(sections []section, bookTitle string) []section {
	var out []section
	var lead []section

	for _, s := range sections {
		if s.title == "" {
			if strings.TrimSpace(s.body) == "" {
				continue
			}
			if len(out) == 0 {
				lead = append(lead, s)
				continue
			}
			last := &out[len(out)-1]
			last.body = joinParagraphs(last.body, s.body)
			continue
		}
		if len(out) == 0 && len(lead) > 0 {
			for i := len(lead) - 1; i >= 0; i-- {
				s.body = joinParagraphs(lead[i].body, s.body)
			}
			lead = nil
		}
		out = append(out, s)
	}

	if len(lead) > 0 {
		merged := section{url: lead[0].url, title: bookTitle}
		for _, s := range lead {
			merged.body = joinParagraphs(merged.body, s.body)
		}
		out = append(out, merged)
	}
	return out
}

// finalizeChapters drops blank chapters and numbers the rest.
func finalizeChapters(sections []section) []Chapter {
	chapters := make([]Chapter, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		chapters = append(chapters, Chapter{
			SourceURL: s.url,
			Title:     s.title,
			Body:      s.body,
			Index:     len(chapters),
		})
	}
	return chapters
}

func joinParagraphs(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
