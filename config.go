package goquote

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brunobiangulo/goquote/cleaner"
	"github.com/brunobiangulo/goquote/export"
	"github.com/brunobiangulo/goquote/extract"
)

//go:embed config.schema.json
var configSchema []byte

// Config holds all configuration for the goquote engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goquote/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "goquote".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goquote/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Output is the consolidated table destination. A .csv extension
	// selects CSV, anything else an XLSX workbook. Empty skips export.
	Output string `json:"output" yaml:"output"`

	// CleanedDir receives the cleaned text of documents whose layout
	// requires cleaning. Defaults to <storage>/cleaned.
	CleanedDir string `json:"cleaned_dir" yaml:"cleaned_dir"`

	// Workers bounds the goroutines extracting the lines of one document.
	Workers int `json:"workers" yaml:"workers"`

	// VectorDim is the size of the description vectors used for
	// similar-item lookup. Fixed once the database is created.
	VectorDim int `json:"vector_dim" yaml:"vector_dim"`

	ContinueOnError bool `json:"continue_on_error" yaml:"continue_on_error"`
	Force           bool `json:"force" yaml:"force"` // re-extract unchanged documents

	Cleaner cleaner.Config `json:"cleaner" yaml:"cleaner"`

	// Layouts adds or replaces supplier layouts, keyed "tag" or
	// "tag/revision".
	Layouts map[string]extract.Layout `json:"layouts,omitempty" yaml:"layouts,omitempty"`

	// Defaults picks the revision used when a batch entry names none.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Batch is the ordered list of documents a run processes.
	Batch []BatchEntry `json:"batch" yaml:"batch"`
}

// BatchEntry names one document and the supplier layout that reads it.
type BatchEntry struct {
	Path     string `json:"path" yaml:"path"`
	Supplier string `json:"supplier" yaml:"supplier"`
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.goquote/goquote.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "goquote",
		StorageDir: "home",
		Output:     export.DefaultFilename,
		Workers:    1,
		Cleaner:    cleaner.DefaultConfig(),
	}
}

// LoadConfig reads a JSON config file over DefaultConfig. The document is
// checked against the config schema before decoding.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := ValidateConfigJSON(data); err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ValidateConfigJSON checks a raw config document against the config schema.
// Batch requests sent to the server are config documents too.
func ValidateConfigJSON(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader(configSchema)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv overrides config fields from GOQUOTE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("GOQUOTE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("GOQUOTE_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("GOQUOTE_CLEANED_DIR"); v != "" {
		c.CleanedDir = v
	}
	if v := os.Getenv("GOQUOTE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: GOQUOTE_WORKERS=%q", ErrInvalidConfig, v)
		}
		c.Workers = n
	}
	return nil
}

// Validate checks values the schema cannot: layout keys and batch paths.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}
	if c.VectorDim < 0 {
		return fmt.Errorf("%w: vector_dim must be >= 0", ErrInvalidConfig)
	}
	for k := range c.Layouts {
		if _, err := extract.ParseKey(k); err != nil {
			return fmt.Errorf("%w: layout %q: %v", ErrInvalidConfig, k, err)
		}
	}
	for i, b := range c.Batch {
		if b.Path == "" || b.Supplier == "" {
			return fmt.Errorf("%w: batch[%d] needs path and supplier", ErrInvalidConfig, i)
		}
	}
	return nil
}

// ResolveBatch returns the batch entries with relative paths resolved
// against baseDir, usually the config file's directory.
func (c *Config) ResolveBatch(baseDir string) []BatchEntry {
	out := make([]BatchEntry, len(c.Batch))
	for i, b := range c.Batch {
		if baseDir != "" && !filepath.IsAbs(b.Path) {
			b.Path = filepath.Join(baseDir, b.Path)
		}
		out[i] = b
	}
	return out
}

// storageDir returns the directory holding the database and derived files.
func (c *Config) storageDir() string {
	return filepath.Dir(c.resolveDBPath())
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goquote"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".goquote", name+".db")
	}
}
