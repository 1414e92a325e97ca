package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Pool-Of-Tears/Myne-sub000/internal/epub"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "myne-epub",
		Short: "Parse EPUB files into chapters of plain text",
		Long: `myne-epub reads EPUB 2 and EPUB 3 books and turns them into an ordered
list of chapters with inline image markers, the image catalogue and the cover.

Parsed books are kept in an on-disk cache keyed by file name.`,
		SilenceUsage: true,
	}
	addPersistentFlags(root)
	root.AddCommand(newInfoCmd(), newTextCmd(), newCoverCmd(), newCacheCmd())
	return root
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE...",
		Short: "Print metadata of one or more books",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd)
			if err != nil {
				return err
			}
			l := opts.newLoader()

			books := make([]*epub.Book, len(args))
			errs := make([]error, len(args))
			var g errgroup.Group
			g.SetLimit(opts.Jobs)
			for i, path := range args {
				g.Go(func() error {
					books[i], errs[i] = l.Load(path, opts.UseTOC)
					return nil
				})
			}
			g.Wait()

			out := cmd.OutOrStdout()
			failed := 0
			for i, path := range args {
				if errs[i] != nil {
					failed++
					opts.Logger.Error("failed to parse book", "path", path, "error", errs[i])
					continue
				}
				printInfo(out, path, books[i])
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d books failed to parse", failed, len(args))
			}
			return nil
		},
	}
}

func printInfo(w io.Writer, path string, b *epub.Book) {
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  Title:    %s\n", b.Title)
	fmt.Fprintf(w, "  Author:   %s\n", b.Author)
	fmt.Fprintf(w, "  Language: %s\n", b.Language)
	if b.Identifier != "" {
		fmt.Fprintf(w, "  ID:       %s\n", b.Identifier)
	}
	fmt.Fprintf(w, "  Chapters: %d\n", len(b.Chapters))
	fmt.Fprintf(w, "  Images:   %d\n", len(b.Images))
	cover := "none"
	if b.HasCover() {
		cover = b.CoverMediaType
		if !b.CoverDecodable {
			cover += " (undecodable)"
		}
	}
	fmt.Fprintf(w, "  Cover:    %s\n", cover)
}

func newTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text FILE",
		Short: "Print the chapters of a book as plain text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd)
			if err != nil {
				return err
			}
			l := opts.newLoader()
			book, err := l.Load(args[0], opts.UseTOC)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ch := range book.Chapters {
				renderChapter(out, ch)
			}
			return nil
		},
	}
}

// renderChapter prints a chapter with image tokens replaced by a marker line.
func renderChapter(w io.Writer, ch epub.Chapter) {
	fmt.Fprintf(w, "## %s\n\n", ch.Title)
	for _, para := range strings.Split(ch.Body, "\n\n") {
		if tok, ok := epub.ParseImageToken(para); ok {
			fmt.Fprintf(w, "[image: %s]\n\n", tok.Path)
			continue
		}
		fmt.Fprintf(w, "%s\n\n", para)
	}
}

func newCoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cover FILE",
		Short: "Extract the cover image of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			width, _ := cmd.Flags().GetInt("width")
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			if width < 0 {
				return fmt.Errorf("--width must not be negative")
			}

			l := opts.newLoader()
			book, err := l.Load(args[0], opts.UseTOC)
			if err != nil {
				return err
			}
			if err := writeCover(book, output, width); err != nil {
				return err
			}
			opts.Logger.Info("cover written", "path", output)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output image path")
	cmd.Flags().Int("width", 0, "Fit the cover into this width, keeping the aspect ratio (0 keeps the original)")
	return cmd
}

var errNoCover = errors.New("book has no cover image")

// writeCover stores the cover at output. With width > 0 the image is decoded,
// scaled down to fit and re-encoded in the format implied by output.
func writeCover(book *epub.Book, output string, width int) error {
	if !book.HasCover() {
		return errNoCover
	}
	if width == 0 {
		return os.WriteFile(output, book.CoverImage, 0o644)
	}
	if !book.CoverDecodable {
		return fmt.Errorf("cannot resize cover: unsupported %s image", book.CoverMediaType)
	}

	img, err := imaging.Decode(bytes.NewReader(book.CoverImage), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode cover: %w", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	if err := imaging.Save(img, output); err != nil {
		return fmt.Errorf("failed to write cover: %w", err)
	}
	return nil
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the parse cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd)
			if err != nil {
				return err
			}
			c, err := opts.openCache()
			if err != nil {
				return err
			}
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", c.Dir())
			return nil
		},
	})
	return cmd
}
