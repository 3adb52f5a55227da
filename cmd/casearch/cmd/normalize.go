package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JCHanratty/CASearch/internal/chunk"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/index"
	"github.com/JCHanratty/CASearch/internal/output"
)

type normalizeOptions struct {
	format  string
	outline bool
	chunks  bool
}

// normalizeReport is the JSON form of a normalize run.
type normalizeReport struct {
	Name    string          `json:"name"`
	Pages   []normalizePage `json:"pages"`
	Outline []outlineEntry  `json:"outline,omitempty"`
	Chunks  []chunkEntry    `json:"chunks,omitempty"`
}

type normalizePage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

type outlineEntry struct {
	Level int    `json:"level"`
	Kind  string `json:"kind"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
	Line  int    `json:"line"`
}

type chunkEntry struct {
	Ordinal       int    `json:"ordinal"`
	Heading       string `json:"heading,omitempty"`
	ParentHeading string `json:"parent_heading,omitempty"`
	SectionNumber string `json:"section_number,omitempty"`
	PageStart     int    `json:"page_start"`
	PageEnd       int    `json:"page_end"`
	Chars         int    `json:"chars"`
}

func newNormalizeCmd(root *rootOptions) *cobra.Command {
	var opts normalizeOptions

	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Show how a document is cleaned and split",
		Long: `Run the normalization and chunking stages on one document without
indexing it. Prints the clean text of every page; --outline lists the
detected article and section headings and --chunks the sections that
would be indexed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(opts.format)
			if err != nil {
				return caserrors.ValidationError(err.Error(), nil)
			}

			cfg := root.cfg
			src, err := index.ReadSource(args[0], int64(cfg.Performance.MaxFileSizeMB)*1024*1024)
			if err != nil {
				return err
			}
			prepared, err := index.Prepare(cmd.Context(), src, newNormalizer(cfg), newChunker(cfg))
			if err != nil {
				return err
			}

			report := normalizeReport{Name: prepared.Name}
			chunkPages := make([]chunk.Page, len(prepared.Pages))
			for i, p := range prepared.Pages {
				report.Pages = append(report.Pages, normalizePage{Number: p.Number, Text: p.CleanText})
				chunkPages[i] = chunk.Page{Number: p.Number, Text: p.CleanText}
			}
			if opts.outline {
				for _, h := range chunk.Outline(chunkPages) {
					report.Outline = append(report.Outline, outlineEntry{
						Level: h.Level, Kind: string(h.Kind), Text: h.Text, Page: h.Page, Line: h.Line,
					})
				}
			}
			if opts.chunks {
				for _, ch := range prepared.Chunks {
					report.Chunks = append(report.Chunks, chunkEntry{
						Ordinal:       ch.Ordinal,
						Heading:       ch.Heading,
						ParentHeading: ch.ParentHeading,
						SectionNumber: ch.SectionNumber,
						PageStart:     ch.PageStart,
						PageEnd:       ch.PageEnd,
						Chars:         len(ch.Text),
					})
				}
			}

			out := output.New(cmd.OutOrStdout())
			if format == output.FormatJSON {
				return out.JSON(report)
			}
			printNormalizeReport(out, report, opts)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.outline, "outline", false, "List detected article and section headings")
	cmd.Flags().BoolVar(&opts.chunks, "chunks", false, "List the sections that would be indexed")

	return cmd
}

func printNormalizeReport(out *output.Writer, r normalizeReport, opts normalizeOptions) {
	out.Header(r.Name)
	for _, p := range r.Pages {
		out.Newline()
		out.Header(fmt.Sprintf("Page %d", p.Number))
		out.Code(p.Text)
	}

	if opts.outline {
		out.Newline()
		out.Header("Outline")
		if len(r.Outline) == 0 {
			out.Status("", "No headings detected")
		}
		for _, h := range r.Outline {
			indent := strings.Repeat("  ", h.Level-1)
			out.Statusf("", "%s%s (page %d, line %d)", indent, h.Text, h.Page, h.Line)
		}
	}

	if opts.chunks {
		out.Newline()
		out.Header(fmt.Sprintf("Sections (%d)", len(r.Chunks)))
		for _, c := range r.Chunks {
			heading := c.Heading
			if heading == "" {
				heading = "(no heading)"
			}
			pages := fmt.Sprintf("page %d", c.PageStart)
			if c.PageEnd > c.PageStart {
				pages = fmt.Sprintf("pages %d-%d", c.PageStart, c.PageEnd)
			}
			out.Statusf("", "%d. %s · %s · %d chars", c.Ordinal, heading, pages, c.Chars)
		}
	}
}
