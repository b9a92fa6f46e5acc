package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brunobiangulo/goquote/extract"
)

// Dataset is a collection of quotation documents with hand-checked records.
type Dataset struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// Case is one document and the records it should produce, in line order.
type Case struct {
	Name     string           `json:"name,omitempty"`
	Path     string           `json:"path"`
	Supplier string           `json:"supplier"`
	Revision string           `json:"revision,omitempty"`
	Category string           `json:"category,omitempty"` // e.g. "scanned", "native", "wrapped-lines"
	Expected []extract.Record `json:"expected"`
}

// LoadDataset reads a dataset file. Relative case paths are resolved
// against the dataset file's directory, and records without a supplier tag
// take the case's supplier.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("reading dataset: %w", err)
	}
	if err := json.Unmarshal(data, &ds); err != nil {
		return ds, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = filepath.Base(path)
	}

	dir := filepath.Dir(path)
	for i := range ds.Cases {
		c := &ds.Cases[i]
		if c.Path == "" || c.Supplier == "" {
			return ds, fmt.Errorf("dataset %s: case %d needs path and supplier", path, i)
		}
		if !filepath.IsAbs(c.Path) {
			c.Path = filepath.Join(dir, c.Path)
		}
		if c.Name == "" {
			c.Name = filepath.Base(c.Path)
		}
		for j := range c.Expected {
			if c.Expected[j].Supplier == "" {
				c.Expected[j].Supplier = extract.Tag(c.Supplier)
			}
		}
	}
	return ds, nil
}
