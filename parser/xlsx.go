package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads spreadsheet quotes: each sheet is a page and each row a
// line with its non-empty cells joined by spaces.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}

		var content strings.Builder
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) == 0 {
				continue
			}
			content.WriteString(strings.Join(cells, " "))
			content.WriteByte('\n')
		}
		pages = append(pages, Page{Number: i + 1, Text: content.String()})
	}

	return &Document{Pages: pages}, nil
}
