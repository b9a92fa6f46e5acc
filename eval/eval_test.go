package eval

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brunobiangulo/goquote/extract"
)

// ---------------------------------------------------------------------------
// normalizeText
// ---------------------------------------------------------------------------

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"parafuso sextavado", "PARAFUSO SEXTAVADO"},
		{"  FITA   ISOLANTE  ", "FITA ISOLANTE"},
		{"FITA\u00a0ISOLANTE", "FITA ISOLANTE"},
		{"ABC\u2013123", "ABC-123"},
		{"ABC\u2010123", "ABC-123"},
		{"AB\u200bC-123", "ABC-123"},
		{"\ufeffCABO", "CABO"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Score
// ---------------------------------------------------------------------------

func rec(code, desc string, value float64) extract.Record {
	return extract.Record{Code: code, Description: desc, UnitValue: value, Supplier: extract.Fornecedor1}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore(t *testing.T) {
	tests := []struct {
		name           string
		expected, got  []extract.Record
		matched        int
		precision      float64
		recall         float64
		valueAcc       float64
		descAcc        float64
		missing, extra int
	}{
		{
			name:      "exact",
			expected:  []extract.Record{rec("A1", "CABO", 10), rec("B2", "FITA", 2.5)},
			got:       []extract.Record{rec("A1", "CABO", 10), rec("B2", "FITA", 2.5)},
			matched:   2,
			precision: 1, recall: 1, valueAcc: 1, descAcc: 1,
		},
		{
			name:      "missing and unexpected",
			expected:  []extract.Record{rec("A1", "CABO", 10), rec("B2", "FITA", 2.5)},
			got:       []extract.Record{rec("A1", "CABO", 10), rec("C3", "TUBO", 1)},
			matched:   1,
			precision: 0.5, recall: 0.5, valueAcc: 1, descAcc: 1,
			missing: 1, extra: 1,
		},
		{
			name:      "value within tolerance",
			expected:  []extract.Record{rec("A1", "CABO", 10)},
			got:       []extract.Record{rec("A1", "CABO", 10.004)},
			matched:   1,
			precision: 1, recall: 1, valueAcc: 1, descAcc: 1,
		},
		{
			name:      "wrong value and description",
			expected:  []extract.Record{rec("A1", "CABO FLEX", 10)},
			got:       []extract.Record{rec("A1", "CABO", 100)},
			matched:   1,
			precision: 1, recall: 1, valueAcc: 0, descAcc: 0,
		},
		{
			name:      "duplicate codes paired in order",
			expected:  []extract.Record{rec("A1", "CABO", 10), rec("A1", "CABO", 12)},
			got:       []extract.Record{rec("A1", "CABO", 10)},
			matched:   1,
			precision: 1, recall: 0.5, valueAcc: 1, descAcc: 1,
			missing: 1,
		},
		{
			name:      "code normalised",
			expected:  []extract.Record{rec("ABC-123", "PARAFUSO", 1)},
			got:       []extract.Record{rec("abc\u2013123", "parafuso", 1)},
			matched:   1,
			precision: 1, recall: 1, valueAcc: 1, descAcc: 1,
		},
		{
			name:      "nothing expected nothing found",
			matched:   0,
			precision: 1, recall: 1, valueAcc: 1, descAcc: 1,
		},
		{
			name:      "nothing found",
			expected:  []extract.Record{rec("A1", "CABO", 10)},
			matched:   0,
			precision: 1, recall: 0, valueAcc: 1, descAcc: 1,
			missing: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, missing, extra := Score(tt.expected, tt.got)
			if m.Matched != tt.matched {
				t.Errorf("matched = %d, want %d", m.Matched, tt.matched)
			}
			if !approx(m.Precision, tt.precision) || !approx(m.Recall, tt.recall) {
				t.Errorf("P/R = %.3f/%.3f, want %.3f/%.3f", m.Precision, m.Recall, tt.precision, tt.recall)
			}
			if !approx(m.ValueAccuracy, tt.valueAcc) || !approx(m.DescriptionAccuracy, tt.descAcc) {
				t.Errorf("value/desc accuracy = %.3f/%.3f, want %.3f/%.3f",
					m.ValueAccuracy, m.DescriptionAccuracy, tt.valueAcc, tt.descAcc)
			}
			if len(missing) != tt.missing || len(extra) != tt.extra {
				t.Errorf("missing/unexpected = %d/%d, want %d/%d", len(missing), len(extra), tt.missing, tt.extra)
			}
		})
	}
}

func TestScoreF1(t *testing.T) {
	m, _, _ := Score(
		[]extract.Record{rec("A1", "", 1), rec("B2", "", 1), rec("C3", "", 1), rec("D4", "", 1)},
		[]extract.Record{rec("A1", "", 1), rec("B2", "", 1)},
	)
	// P=1, R=0.5
	if !approx(m.F1, 2.0/3.0) {
		t.Errorf("F1 = %f, want 0.667", m.F1)
	}

	m, _, _ = Score([]extract.Record{rec("A1", "", 1)}, nil)
	if m.F1 != 0 {
		t.Errorf("F1 with no matches = %f, want 0", m.F1)
	}
}

// ---------------------------------------------------------------------------
// LoadDataset
// ---------------------------------------------------------------------------

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotes.json")
	data := `{
		"cases": [
			{"path": "docs/a.pdf", "supplier": "fornecedor1", "category": "native",
			 "expected": [{"code": "ABC-123", "description": "PARAFUSO", "unit_value": 1234.56}]},
			{"name": "abs", "path": "/data/b.pdf", "supplier": "fornecedor3", "revision": "v2", "expected": []}
		]
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if ds.Name != "quotes.json" {
		t.Errorf("name = %q, want file name", ds.Name)
	}
	if len(ds.Cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(ds.Cases))
	}

	a := ds.Cases[0]
	if a.Path != filepath.Join(dir, "docs", "a.pdf") {
		t.Errorf("relative path not resolved: %q", a.Path)
	}
	if a.Name != "a.pdf" {
		t.Errorf("default name = %q, want a.pdf", a.Name)
	}
	if a.Expected[0].Supplier != "fornecedor1" {
		t.Errorf("expected record supplier = %q, want case supplier", a.Expected[0].Supplier)
	}

	b := ds.Cases[1]
	if b.Path != "/data/b.pdf" || b.Name != "abs" || b.Revision != "v2" {
		t.Errorf("case = %+v", b)
	}
}

func TestLoadDatasetErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name, content string
	}{
		{"bad json", `{"cases": [`},
		{"missing supplier", `{"cases": [{"path": "a.pdf"}]}`},
		{"missing path", `{"cases": [{"supplier": "fornecedor1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadDataset(path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadDataset(filepath.Join(dir, "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ---------------------------------------------------------------------------
// FormatReport
// ---------------------------------------------------------------------------

func TestFormatReport(t *testing.T) {
	r := &Report{
		Dataset:    "quotes",
		TotalCases: 2,
		Passed:     1,
		Failed:     1,
		Threshold:  DefaultThreshold,
		Metrics:    AggregateMetrics{Cases: 1, AvgF1: 1, AvgPrecision: 1, AvgRecall: 1},
		SupplierMetrics: map[string]AggregateMetrics{
			"fornecedor3": {Cases: 1},
			"fornecedor1": {Cases: 1, AvgF1: 1},
		},
		Results: []CaseResult{
			{
				Name: "a.pdf", Supplier: "fornecedor1", Passed: true,
				Metrics:    CaseMetrics{Expected: 1, Extracted: 2, Matched: 1, F1: 0.67},
				Unexpected: []extract.Record{rec("ZZ9", "TOTAL GERAL", 9)},
			},
			{Name: "b.pdf", Supplier: "fornecedor3", Error: "goquote: document open failed"},
		},
		RunTime: 1500 * time.Millisecond,
	}

	out := FormatReport(r)
	for _, want := range []string{
		"=== Evaluation Report: quotes ===",
		"Passed: 1 (50.0%)",
		"Run time: 1.5s",
		"[PASS] 1. a.pdf (fornecedor1)",
		"unexpected: ZZ9  TOTAL GERAL",
		"[FAIL] 2. b.pdf (fornecedor3)",
		"Error: goquote: document open failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "[fornecedor1]") > strings.Index(out, "[fornecedor3]") {
		t.Error("supplier breakdown not sorted")
	}
}

func TestPassRate(t *testing.T) {
	if got := passRate(0, 0); got != 0 {
		t.Errorf("passRate(0, 0) = %f", got)
	}
	if got := passRate(3, 4); got != 75 {
		t.Errorf("passRate(3, 4) = %f, want 75", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("got %q", got)
	}
}
