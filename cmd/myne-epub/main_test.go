package main

import (
	"archive/zip"
	"bytes"
	"context"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/Pool-Of-Tears/Myne-sub000/internal/epub"
)

func readCLIOptionsForTest(t *testing.T, flagArgs ...string) (*cliOptions, error) {
	t.Helper()
	cmd := newRootCmd()
	if err := cmd.ParseFlags(flagArgs); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return readCLIOptions(cmd)
}

func TestReadCLIOptions_Defaults(t *testing.T) {
	opts, err := readCLIOptionsForTest(t)
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.CacheDir == "" {
		t.Fatal("CacheDir is empty")
	}
	if opts.NoCache {
		t.Fatal("NoCache = true, want false")
	}
	if !opts.UseTOC {
		t.Fatal("UseTOC = false, want true")
	}
	if opts.Jobs < 1 {
		t.Fatalf("Jobs = %d, want >= 1", opts.Jobs)
	}
	if !opts.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Logger should be enabled at INFO level by default")
	}
	if opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should not be enabled at DEBUG level by default")
	}
}

func TestReadCLIOptions_CustomFlags(t *testing.T) {
	opts, err := readCLIOptionsForTest(t,
		"--cache-dir", "/tmp/myne-test",
		"--no-cache",
		"--no-toc",
		"--jobs", "3",
		"--log-level", "error",
		"--verbose",
	)
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.CacheDir != "/tmp/myne-test" {
		t.Fatalf("CacheDir = %q", opts.CacheDir)
	}
	if !opts.NoCache {
		t.Fatal("NoCache = false, want true")
	}
	if opts.UseTOC {
		t.Fatal("UseTOC = true, want false")
	}
	if opts.Jobs != 3 {
		t.Fatalf("Jobs = %d", opts.Jobs)
	}
	// --verbose overrides log-level to debug
	if !opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should be enabled at DEBUG level when --verbose is set")
	}
}

func TestReadCLIOptions_Env(t *testing.T) {
	t.Setenv(envCacheDir, "/srv/cache")
	t.Setenv(envLogLevel, "warn")

	opts, err := readCLIOptionsForTest(t)
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.CacheDir != "/srv/cache" {
		t.Fatalf("CacheDir = %q, want /srv/cache", opts.CacheDir)
	}
	if opts.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Logger should not be enabled at INFO level with " + envLogLevel + "=warn")
	}
}

func TestReadCLIOptions_Invalid(t *testing.T) {
	tests := []struct {
		args []string
		flag string
	}{
		{[]string{"--log-level", "trace"}, "--log-level"},
		{[]string{"--log-format", "yaml"}, "--log-format"},
		{[]string{"--jobs", "0"}, "--jobs"},
		{[]string{"--cache-dir", " "}, "--cache-dir"},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			_, err := readCLIOptionsForTest(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.flag) {
				t.Fatalf("expected %s validation error, got %v", tt.flag, err)
			}
		})
	}
}

func TestBuildLogger_FormatNormalization(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "info", "JSON")
	logger.Info("test message")
	output := buf.String()
	if len(output) == 0 || output[0] != '{' {
		t.Fatalf("expected JSON output for format 'JSON', got: %s", output)
	}
}

func TestRenderChapter(t *testing.T) {
	var buf bytes.Buffer
	renderChapter(&buf, epub.Chapter{
		Title: "One",
		Body:  "First paragraph.\n\n" + `<img src="OEBPS/a.png" yrel="1.45">` + "\n\nLast.",
	})
	want := "## One\n\nFirst paragraph.\n\n[image: OEBPS/a.png]\n\nLast.\n\n"
	if got := buf.String(); got != want {
		t.Fatalf("renderChapter() = %q, want %q", got, want)
	}
}

func writeTestEPUB(t *testing.T, dir string) string {
	t.Helper()
	var cover bytes.Buffer
	if err := imaging.Encode(&cover, imaging.New(40, 60, color.NRGBA{B: 255, A: 255}), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{"mimetype", []byte("application/epub+zip")},
		{"META-INF/container.xml", []byte(`<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OPS/book.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`)},
		{"OPS/book.opf", []byte(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>CLI Book</dc:title><dc:creator>Someone</dc:creator>
  </metadata>
  <manifest>
    <item id="c" href="c.xhtml" media-type="application/xhtml+xml"/>
    <item id="cov" href="cover.png" media-type="image/png" properties="cover-image"/>
  </manifest>
  <spine><itemref idref="c"/></spine>
</package>`)},
		{"OPS/c.xhtml", []byte(`<html xmlns="http://www.w3.org/1999/xhtml"><body>
<h1>Opening</h1><p>Hello there.</p><p><img src="cover.png"/></p></body></html>`)},
		{"OPS/cover.png", cover.Bytes()},
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(f.data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, "cli-book.epub")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	book := writeTestEPUB(t, dir)
	cacheDir := filepath.Join(dir, "cache")

	out, err := runCLI(t, "info", book, "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("info error = %v", err)
	}
	for _, want := range []string{"Title:    CLI Book", "Author:   Someone", "Chapters: 1", "Cover:    image/png"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "cli-book.json")); err != nil {
		t.Errorf("info did not populate the cache: %v", err)
	}

	out, err = runCLI(t, "text", book, "--no-cache")
	if err != nil {
		t.Fatalf("text error = %v", err)
	}
	if want := "## Opening\n\nHello there.\n\n[image: OPS/cover.png]\n\n"; out != want {
		t.Errorf("text output = %q, want %q", out, want)
	}

	coverPath := filepath.Join(dir, "cover.png")
	if _, err := runCLI(t, "cover", book, "--no-cache", "-o", coverPath, "--width", "20"); err != nil {
		t.Fatalf("cover error = %v", err)
	}
	img, err := imaging.Open(coverPath)
	if err != nil {
		t.Fatalf("failed to open written cover: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 30 {
		t.Errorf("cover size = %dx%d, want 20x30", b.Dx(), b.Dy())
	}

	out, err = runCLI(t, "cache", "clear", "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("cache clear error = %v", err)
	}
	if !strings.Contains(out, "cleared") {
		t.Errorf("cache clear output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "cli-book.json")); !os.IsNotExist(err) {
		t.Errorf("cache entry survived clear: %v", err)
	}
}

func TestInfo_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeTestEPUB(t, dir)
	bad := filepath.Join(dir, "bad.epub")
	if err := os.WriteFile(bad, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "info", good, bad, "--no-cache", "--jobs", "2")
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("info error = %v, want 1 of 2 failed", err)
	}
	if !strings.Contains(out, "CLI Book") {
		t.Errorf("good book missing from output:\n%s", out)
	}
}

func TestInfo_UnusableCacheDirStillParses(t *testing.T) {
	dir := t.TempDir()
	book := writeTestEPUB(t, dir)
	blocker := filepath.Join(dir, "plain-file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "info", book, "--cache-dir", filepath.Join(blocker, "cache"))
	if err != nil {
		t.Fatalf("info error = %v", err)
	}
	if !strings.Contains(out, "Title:    CLI Book") {
		t.Errorf("info output missing book:\n%s", out)
	}
}
