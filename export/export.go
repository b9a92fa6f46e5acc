// Package export writes the consolidated quotation table to a spreadsheet.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	DefaultSheet    = "Orcamentos"
	DefaultFilename = "orcamentos_unificados.xlsx"
)

// Exporter writes a header row followed by rows to path.
type Exporter interface {
	Export(path string, columns []string, rows [][]any) error
}

// ForPath picks the exporter for the file extension of path; anything other
// than .csv gets a workbook.
func ForPath(path string) Exporter {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return CSV{}
	}
	return XLSX{}
}

// XLSX writes a single-sheet workbook.
type XLSX struct {
	Sheet string
}

// Export writes the workbook to path, creating parent directories.
func (x XLSX) Export(path string, columns []string, rows [][]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := x.build(columns, rows)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx save: %w", err)
	}
	return nil
}

// WriteTo streams the workbook to w.
func (x XLSX) WriteTo(w io.Writer, columns []string, rows [][]any) error {
	f, err := x.build(columns, rows)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func (x XLSX) build(columns []string, rows [][]any) (*excelize.File, error) {
	sheet := x.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("writing %s: %w", cell, err)
			}
		}
	}

	if len(columns) > 0 {
		bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err == nil {
			last, _ := excelize.CoordinatesToCellName(len(columns), 1)
			_ = f.SetCellStyle(sheet, "A1", last, bold)
		}
	}

	// Widen columns by header name
	for i, h := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, columnWidth(h))
	}

	return f, nil
}

func columnWidth(header string) float64 {
	switch header {
	case "description":
		return 60
	case "code":
		return 18
	default:
		return 14
	}
}

// BOM lets spreadsheet programs on Windows detect UTF-8.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// CSV writes comma-separated text with a UTF-8 BOM.
type CSV struct{}

func (CSV) Export(path string, columns []string, rows [][]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv: %w", err)
	}
	if err := (CSV{}).WriteTo(f, columns, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (CSV) WriteTo(w io.Writer, columns []string, rows [][]any) error {
	if _, err := w.Write(BOM); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	record := make([]string, 0, len(columns))
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, formatCell(v))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv write: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		return fmt.Sprint(v)
	}
}
