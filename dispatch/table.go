package dispatch

import "github.com/brunobiangulo/goquote/extract"

// Columns is the fixed header of the consolidated table.
var Columns = []string{"code", "description", "unit_value", "supplier_tag"}

// Table is the consolidated record list of a batch, in processing order.
// Records are never sorted, filtered or deduplicated.
type Table struct {
	records []extract.Record
}

func NewTable(records ...extract.Record) *Table {
	t := &Table{}
	t.Append(records...)
	return t
}

func (t *Table) Append(records ...extract.Record) {
	t.records = append(t.records, records...)
}

func (t *Table) Len() int { return len(t.records) }

// Records returns a copy of the rows.
func (t *Table) Records() []extract.Record {
	out := make([]extract.Record, len(t.records))
	copy(out, t.records)
	return out
}

// Columns returns the header row.
func (t *Table) Columns() []string {
	out := make([]string, len(Columns))
	copy(out, Columns)
	return out
}

// Rows returns one four-cell row per record, matching Columns.
func (t *Table) Rows() [][]any {
	rows := make([][]any, len(t.records))
	for i, r := range t.records {
		rows[i] = []any{r.Code, r.Description, r.UnitValue, string(r.Supplier)}
	}
	return rows
}

// SupplierCount is the number of records one supplier contributed.
type SupplierCount struct {
	Supplier extract.Tag `json:"supplier"`
	Records  int         `json:"records"`
}

// Counts returns records per supplier in order of first appearance.
func (t *Table) Counts() []SupplierCount {
	var out []SupplierCount
	index := make(map[extract.Tag]int)
	for _, r := range t.records {
		i, ok := index[r.Supplier]
		if !ok {
			i = len(out)
			index[r.Supplier] = i
			out = append(out, SupplierCount{Supplier: r.Supplier})
		}
		out[i].Records++
	}
	return out
}
