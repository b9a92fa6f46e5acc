package export

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

var (
	testColumns = []string{"code", "description", "unit_value", "supplier_tag"}
	testRows    = [][]any{
		{"ABC-123", "PARAFUSO SEXTAVADO M8", 1234.56, "fornecedor1"},
		{"4512378", "FITA ISOLANTE 20M", 12.5, "fornecedor3"},
	}
)

func TestXLSXExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nested", DefaultFilename)

	if err := (XLSX{}).Export(path, testColumns, testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); !reflect.DeepEqual(got, []string{DefaultSheet}) {
		t.Errorf("sheets = %v, want [%s]", got, DefaultSheet)
	}

	rows, err := f.GetRows(DefaultSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if !reflect.DeepEqual(rows[0], testColumns) {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "ABC-123" || rows[2][3] != "fornecedor3" {
		t.Errorf("data rows = %v", rows[1:])
	}

	v, err := f.GetCellValue(DefaultSheet, "C2", excelize.Options{RawCellValue: true})
	if err != nil {
		t.Fatal(err)
	}
	if v != "1234.56" {
		t.Errorf("C2 = %q, want numeric 1234.56", v)
	}
}

func TestXLSXExportEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	if err := (XLSX{Sheet: "Vazio"}).Export(path, testColumns, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, _ := f.GetRows("Vazio")
	if len(rows) != 1 {
		t.Errorf("rows = %d, want header only", len(rows))
	}
}

func TestXLSXWriteTo(t *testing.T) {
	var buf bytes.Buffer
	if err := (XLSX{}).WriteTo(&buf, testColumns, testRows); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(DefaultSheet)
	if len(rows) != 3 {
		t.Errorf("rows = %d, want 3", len(rows))
	}
}

func TestCSVExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := ForPath(path).Export(path, testColumns, testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := string(BOM) +
		"code,description,unit_value,supplier_tag\n" +
		"ABC-123,PARAFUSO SEXTAVADO M8,1234.56,fornecedor1\n" +
		"4512378,FITA ISOLANTE 20M,12.50,fornecedor3\n"
	if string(data) != want {
		t.Errorf("csv = %q\nwant %q", data, want)
	}
}

func TestForPath(t *testing.T) {
	if _, ok := ForPath("a/b.CSV").(CSV); !ok {
		t.Error("ForPath(.CSV) should return CSV")
	}
	if _, ok := ForPath("a/b.xlsx").(XLSX); !ok {
		t.Error("ForPath(.xlsx) should return XLSX")
	}
}
