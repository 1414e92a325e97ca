package epub

import (
	"archive/zip"
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
)

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// buildEPUB creates an in-memory zip with the mimetype entry first and the
// remaining files in name order.
func buildEPUB(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	mw, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("failed to create mimetype: %v", err)
	}
	mw.Write([]byte("application/epub+zip"))

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
		if _, err := fw.Write(files[name]); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// writeEPUB writes buildEPUB output to dir/name.
func writeEPUB(t *testing.T, dir, name string, files map[string][]byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buildEPUB(t, files), 0o644); err != nil {
		t.Fatalf("failed to write epub: %v", err)
	}
	return p
}

// pngBytes encodes a solid w x h PNG.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// jpegBytes encodes a solid w x h JPEG.
func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 10, B: 200, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func xhtml(body string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>t</title></head>
<body>` + body + `</body>
</html>`)
}

// testBookFiles is the two chapter synthetic book: cover, two images and a
// spine of chapter1.xhtml and chapter2.xhtml.
func testBookFiles(t *testing.T) map[string][]byte {
	t.Helper()
	return map[string][]byte{
		"META-INF/container.xml": []byte(testContainerXML),
		"OEBPS/content.opf": []byte(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
    <dc:title>Test Book</dc:title>
    <dc:creator>Jane Author</dc:creator>
    <dc:language>fr</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
    <item id="img1" href="images/image1.jpg" media-type="image/jpeg"/>
    <item id="img2" href="images/image2.png" media-type="image/png"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`),
		"OEBPS/chapter1.xhtml":    xhtml(`<h1>Chapter 1</h1><p>It was a dark night.</p><p><img src="images/image1.jpg"/></p>`),
		"OEBPS/chapter2.xhtml":    xhtml(`<h1>Chapter 2</h1><p>The morning came.</p><img src="images/image2.png"/>`),
		"OEBPS/images/cover.jpg":  jpegBytes(t, 60, 90),
		"OEBPS/images/image1.jpg": jpegBytes(t, 40, 20),
		"OEBPS/images/image2.png": pngBytes(t, 10, 30),
	}
}

// opfWith returns a minimal OPF with the given manifest items and spine
// itemrefs. spineAttrs is inserted into the <spine> start tag.
func opfWith(title, manifest, spineAttrs, spine string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>` + title + `</dc:title>
  </metadata>
  <manifest>` + manifest + `</manifest>
  <spine` + spineAttrs + `>` + spine + `</spine>
</package>`)
}

type fakeImages map[string]float64

func (f fakeImages) ResolveImage(p string) (string, bool) {
	_, ok := f[p]
	return p, ok
}

func (f fakeImages) AspectRatio(p string) (float64, bool) {
	r, ok := f[p]
	return r, ok && r > 0
}
