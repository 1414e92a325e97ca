package epub

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestCreateBook_Scenario(t *testing.T) {
	book, err := CreateBookFromBytes(buildEPUB(t, testBookFiles(t)))
	if err != nil {
		t.Fatalf("CreateBookFromBytes() error = %v", err)
	}

	if book.Title != "Test Book" {
		t.Errorf("Title = %q, want %q", book.Title, "Test Book")
	}
	if book.Author != "Jane Author" {
		t.Errorf("Author = %q, want %q", book.Author, "Jane Author")
	}
	if book.Language != "fr" {
		t.Errorf("Language = %q, want fr", book.Language)
	}
	if book.Identifier != "urn:uuid:1234" {
		t.Errorf("Identifier = %q, want urn:uuid:1234", book.Identifier)
	}

	wantChapters := []Chapter{
		{
			SourceURL: "OEBPS/chapter1.xhtml",
			Title:     "Chapter 1",
			Body:      "It was a dark night.\n\n" + `<img src="OEBPS/images/image1.jpg" yrel="0.50">`,
			Index:     0,
		},
		{
			SourceURL: "OEBPS/chapter2.xhtml",
			Title:     "Chapter 2",
			Body:      "The morning came.\n\n" + `<img src="OEBPS/images/image2.png" yrel="3.00">`,
			Index:     1,
		},
	}
	if !reflect.DeepEqual(book.Chapters, wantChapters) {
		t.Errorf("Chapters = %+v, want %+v", book.Chapters, wantChapters)
	}

	for _, p := range []string{"OEBPS/images/image1.jpg", "OEBPS/images/image2.png", "OEBPS/images/cover.jpg"} {
		if _, ok := book.Image(p); !ok {
			t.Errorf("image %q not catalogued", p)
		}
	}
	if len(book.Images) != 3 {
		t.Errorf("got %d images, want 3", len(book.Images))
	}

	if !book.HasCover() || !book.CoverDecodable {
		t.Errorf("cover present=%v decodable=%v, want both true", book.HasCover(), book.CoverDecodable)
	}
	if book.CoverMediaType != "image/jpeg" {
		t.Errorf("CoverMediaType = %q, want image/jpeg", book.CoverMediaType)
	}
}

func TestCreateBook_Idempotent(t *testing.T) {
	data := buildEPUB(t, testBookFiles(t))

	first, err := CreateBookFromBytes(data)
	if err != nil {
		t.Fatalf("first parse error = %v", err)
	}
	second, err := CreateBookFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second parse error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("parsing the same bytes twice produced different books")
	}

	path := writeEPUB(t, t.TempDir(), "book.epub", testBookFiles(t))
	fromFile, err := CreateBookFromFile(path)
	if err != nil {
		t.Fatalf("CreateBookFromFile() error = %v", err)
	}
	if fromFile.Title != first.Title || len(fromFile.Chapters) != len(first.Chapters) {
		t.Errorf("file parse = %q/%d chapters, want %q/%d",
			fromFile.Title, len(fromFile.Chapters), first.Title, len(first.Chapters))
	}
}

func TestCreateBook_Errors(t *testing.T) {
	withoutTitle := testBookFiles(t)
	withoutTitle["OEBPS/content.opf"] = opfWith("", "", "", "")

	withoutContainer := testBookFiles(t)
	delete(withoutContainer, "META-INF/container.xml")

	withoutOPF := testBookFiles(t)
	delete(withoutOPF, "OEBPS/content.opf")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"corrupt", []byte("this is not a zip file"), ErrCorruptArchive},
		{"no container", buildEPUB(t, withoutContainer), ErrMissingContainer},
		{"no opf", buildEPUB(t, withoutOPF), ErrMissingOPF},
		{"no title", buildEPUB(t, withoutTitle), ErrMissingTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, err := CreateBookFromBytes(tt.data)
			if err == nil {
				t.Fatalf("expected error, got book %q", book.Title)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("error %T is not a *ParseError", err)
			}
		})
	}
}

func TestCreateBookFromFile_Missing(t *testing.T) {
	_, err := CreateBookFromFile(t.TempDir() + "/absent.epub")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Op != "open" {
		t.Fatalf("error = %v, want open ParseError", err)
	}
}
