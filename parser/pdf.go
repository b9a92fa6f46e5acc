package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

// Parse returns one Page per PDF page. Text is rebuilt row by row so that the
// cells of one quotation line stay on one text line.
func (p *PDFParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := make([]Page, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		pages = append(pages, Page{Number: i, Text: pageText(page)})
	}

	return &Document{Pages: pages}, nil
}

// pageText rebuilds each text row of the page. Glyphs are often emitted one
// character at a time, so a space is only inserted where the horizontal gap
// to the previous glyph is wider than a fraction of the font size. Pages
// whose rows cannot be read fall back to the plain text stream.
func pageText(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		var b strings.Builder
		for _, row := range rows {
			line := strings.Join(strings.Fields(rowText(row.Content)), " ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		return b.String()
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		// Skip pages that fail to extract
		return ""
	}
	return text
}

// wordGap is the gap, as a share of the font size, that separates words.
const wordGap = 0.25

func rowText(glyphs pdf.TextHorizontal) string {
	var b strings.Builder
	for i, g := range glyphs {
		if i > 0 {
			prev := glyphs[i-1]
			if g.X-(prev.X+prev.W) > wordGap*g.FontSize {
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
	}
	return b.String()
}
