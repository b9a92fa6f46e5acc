package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	formats := []string{"pdf", "txt", "text", "xlsx", "xlsm"}
	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", format, err)
			}
			found := false
			for _, f := range p.SupportedFormats() {
				if f == format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list it in SupportedFormats(): %v",
					format, p.SupportedFormats())
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"docx", "csv", "json", "html", ""} {
		t.Run("format_"+format, func(t *testing.T) {
			p, err := reg.Get(format)
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Get(%q) error = %v, want ErrUnsupportedFormat", format, err)
			}
			if p != nil {
				t.Errorf("Get(%q) expected nil parser", format)
			}
		})
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Get("csv"); err == nil {
		t.Fatal("expected error for unregistered format")
	}

	reg.Register("csv", &TextParser{}) // csv quotes read as plain lines
	path := filepath.Join(t.TempDir(), "quote.csv")
	if err := os.WriteFile(path, []byte("1 ABC 10,00\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := reg.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Format != "csv" || doc.Path != path {
		t.Errorf("doc = %+v", doc)
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]string{
		"/in/quote.PDF":        "pdf",
		"quote.cleaned.txt":    "txt",
		"dir.v2/planilha.xlsx": "xlsx",
		"noext":                "",
	}
	for path, want := range tests {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %q, want %q", path, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

func TestTextParserPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quote.txt")
	content := "linha 1\r\nlinha 2\n\fpagina 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := NewRegistry().Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	if got, want := doc.Pages[0].Lines(), []Line{{1, "linha 1"}, {2, "linha 2"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("page 1 lines = %+v, want %+v", got, want)
	}
	if doc.Pages[1].Number != 2 {
		t.Errorf("page 2 number = %d", doc.Pages[1].Number)
	}
	if got := doc.Texts(); len(got) != 2 || got[1] != "pagina 2\n" {
		t.Errorf("Texts = %q", got)
	}
}

func TestTextParserEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 0 {
		t.Errorf("pages = %d, want 0", len(doc.Pages))
	}
}

func TestTextParserMissingFile(t *testing.T) {
	_, err := (&TextParser{}).Parse(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// ---------------------------------------------------------------------------
// XLSX
// ---------------------------------------------------------------------------

func TestXLSXParserSheetsArePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quote.xlsx")

	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "1")
	f.SetCellValue("Sheet1", "B1", "ABC-123")
	f.SetCellValue("Sheet1", "D1", "PARAFUSO")
	f.SetCellValue("Sheet1", "E1", "10,00")
	if _, err := f.NewSheet("Frete"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Frete", "A2", "FRETE")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	doc, err := (&XLSXParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	if got := doc.Pages[0].Lines(); len(got) != 1 || got[0].Text != "1 ABC-123 PARAFUSO 10,00" {
		t.Errorf("sheet 1 lines = %+v", got)
	}
	if got := doc.Pages[1].Lines(); len(got) != 1 || got[0].Text != "FRETE" {
		t.Errorf("sheet 2 lines = %+v", got)
	}
}

// ---------------------------------------------------------------------------
// PDF row rebuilding
// ---------------------------------------------------------------------------

func TestRowTextJoinsGlyphs(t *testing.T) {
	glyph := func(s string, x float64) pdf.Text {
		return pdf.Text{S: s, X: x, W: 5, FontSize: 10}
	}
	row := pdf.TextHorizontal{
		glyph("A", 0), glyph("B", 5), glyph("C", 10),
		glyph("1", 30), glyph("0", 35),
	}
	if got := rowText(row); got != "ABC 10" {
		t.Errorf("rowText = %q, want %q", got, "ABC 10")
	}
}

func TestPDFParserMissingFile(t *testing.T) {
	_, err := (&PDFParser{}).Parse(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPageLinesKeepPositions(t *testing.T) {
	p := Page{Number: 1, Text: "CABECALHO\n\n   \n1 ABC-123 PARAFUSO 10,00\n"}
	want := []Line{{No: 1, Text: "CABECALHO"}, {No: 4, Text: "1 ABC-123 PARAFUSO 10,00"}}
	if got := p.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines = %+v, want %+v", got, want)
	}
	if got := (Page{}).Lines(); len(got) != 0 {
		t.Errorf("empty page lines = %+v", got)
	}
}
