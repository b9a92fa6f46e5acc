// Package goquote consolidates supplier quotations into one table of line
// items: code, description, unit value and supplier.
package goquote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/goquote/cleaner"
	"github.com/brunobiangulo/goquote/dispatch"
	"github.com/brunobiangulo/goquote/export"
	"github.com/brunobiangulo/goquote/extract"
	"github.com/brunobiangulo/goquote/parser"
	"github.com/brunobiangulo/goquote/store"
)

// Engine is the main entry point for quotation extraction.
type Engine interface {
	// RunBatch extracts every entry in order, stores the results, exports
	// the consolidated table and records the run. Unchanged documents are
	// reloaded from the store unless WithForce is given.
	RunBatch(ctx context.Context, entries []BatchEntry, opts ...RunOption) (*RunResult, error)

	// Process extracts and stores a single document.
	Process(ctx context.Context, entry BatchEntry, opts ...RunOption) (*dispatch.Result, error)

	// Export writes every stored record (optionally one supplier's) to path.
	// Returns the number of rows written.
	Export(ctx context.Context, path, supplier string) (int, error)

	// WriteTable streams stored records as "xlsx" or "csv".
	WriteTable(ctx context.Context, w io.Writer, format, supplier string) error

	// Records returns stored records, optionally for one supplier.
	Records(ctx context.Context, supplier string) ([]store.Record, error)

	// Search runs a full-text query over codes and descriptions.
	Search(ctx context.Context, query string, limit int) ([]store.RecordMatch, error)

	// Similar returns the records whose descriptions are closest to text,
	// across suppliers.
	Similar(ctx context.Context, text string, k int) ([]store.RecordMatch, error)

	// ListDocuments returns all processed documents.
	ListDocuments(ctx context.Context) ([]store.Document, error)

	// DeleteDocument removes a document and its records.
	DeleteDocument(ctx context.Context, id int64) error

	// Runs returns past batch runs, newest first.
	Runs(ctx context.Context, limit int) ([]store.Run, error)

	// Stats returns row counts for diagnostics.
	Stats(ctx context.Context) (*store.DBStats, error)

	// Layouts lists the registered supplier layouts.
	Layouts() []extract.Key

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// RunResult is the outcome of a batch run.
type RunResult struct {
	RunID      string                   `json:"run_id"`
	Results    []*dispatch.Result       `json:"results"`
	Failures   []dispatch.Failure       `json:"failures,omitempty"`
	Counts     []dispatch.SupplierCount `json:"counts"`
	Records    int                      `json:"records"`
	Output     string                   `json:"output,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`

	Table *dispatch.Table `json:"-"`
}

// RunOption configures a batch run or a single document.
type RunOption func(*runOptions)

type runOptions struct {
	force           bool
	continueOnError bool
	output          string
	outputSet       bool
}

// WithForce re-extracts documents even if their content hash is unchanged.
func WithForce() RunOption {
	return func(o *runOptions) { o.force = true }
}

// WithContinueOnError records failing documents and keeps going.
func WithContinueOnError() RunOption {
	return func(o *runOptions) { o.continueOnError = true }
}

// WithOutput overrides the export destination. An empty path skips export.
func WithOutput(path string) RunOption {
	return func(o *runOptions) {
		o.output = path
		o.outputSet = true
	}
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg        Config
	store      *store.Store
	extractors *extract.Registry
	parsers    *parser.Registry
	dispatcher *dispatch.Dispatcher
}

// New creates a new goquote engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Resolve database path from config (DBPath > DBName+StorageDir > default)
	dbPath := cfg.resolveDBPath()

	if cfg.VectorDim == 0 {
		cfg.VectorDim = store.DefaultVectorDim
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.CleanedDir == "" {
		cfg.CleanedDir = filepath.Join(cfg.storageDir(), "cleaned")
	}

	extractors, err := buildExtractors(cfg)
	if err != nil {
		return nil, err
	}

	cl, err := cleaner.New(cfg.Cleaner)
	if err != nil {
		return nil, fmt.Errorf("%w: cleaner: %v", ErrInvalidConfig, err)
	}

	s, err := store.New(dbPath, cfg.VectorDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	parsers := parser.NewRegistry()
	d := dispatch.New(extractors, parsers,
		dispatch.WithWorkers(cfg.Workers),
		dispatch.WithCleaner(cl, cleaner.FileStore{Dir: cfg.CleanedDir}),
	)

	slog.Info("engine: ready", "db", dbPath, "layouts", len(extractors.Keys()),
		"workers", cfg.Workers, "cleaned_dir", cfg.CleanedDir)

	return &engine{
		cfg:        cfg,
		store:      s,
		extractors: extractors,
		parsers:    parsers,
		dispatcher: d,
	}, nil
}

// buildExtractors registers the configured layouts over the built-in ones,
// in key order, then applies the configured default revisions.
func buildExtractors(cfg Config) (*extract.Registry, error) {
	reg := extract.NewRegistry()

	names := make([]string, 0, len(cfg.Layouts))
	for k := range cfg.Layouts {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		key, err := extract.ParseKey(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := reg.Register(key, cfg.Layouts[name]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	for tag, rev := range cfg.Defaults {
		if err := reg.SetDefault(extract.Tag(tag), rev); err != nil {
			return nil, fmt.Errorf("%w: default for %s: %v", ErrInvalidConfig, tag, err)
		}
	}
	return reg, nil
}

func (e *engine) options(opts []RunOption) *runOptions {
	o := &runOptions{
		force:           e.cfg.Force,
		continueOnError: e.cfg.ContinueOnError,
		output:          e.cfg.Output,
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

func (e *engine) job(entry BatchEntry) (dispatch.Job, error) {
	absPath, err := filepath.Abs(entry.Path)
	if err != nil {
		return dispatch.Job{}, fmt.Errorf("resolving path: %w", err)
	}
	return dispatch.Job{
		Path:     absPath,
		Supplier: extract.Tag(strings.TrimSpace(entry.Supplier)),
		Revision: strings.TrimSpace(entry.Revision),
	}, nil
}

// RunBatch processes the entries in the order given.
func (e *engine) RunBatch(ctx context.Context, entries []BatchEntry, opts ...RunOption) (*RunResult, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}
	o := e.options(opts)

	jobs := make([]dispatch.Job, 0, len(entries))
	for _, entry := range entries {
		j, err := e.job(entry)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	runID := uuid.New().String()
	start := time.Now()
	slog.Info("run: starting", "run_id", runID, "documents", len(jobs), "force", o.force)

	batch, err := e.dispatcher.Run(ctx, jobs, dispatch.RunOptions{
		ContinueOnError: o.continueOnError,
		Cache:           newStoreCache(e.store, e.extractors, e.cfg.Cleaner, runID, o.force),
	})
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		RunID:     runID,
		Results:   batch.Results,
		Failures:  batch.Failures,
		Counts:    batch.Table.Counts(),
		Records:   batch.Table.Len(),
		StartedAt: start,
		Table:     batch.Table,
	}

	if o.output != "" {
		if err := export.ForPath(o.output).Export(o.output, batch.Table.Columns(), batch.Table.Rows()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrExportFailed, o.output, err)
		}
		res.Output = o.output
		slog.Info("run: table exported", "run_id", runID, "output", o.output, "rows", batch.Table.Len())
	}

	res.FinishedAt = time.Now()
	if err := e.store.InsertRun(ctx, store.Run{
		ID:         runID,
		Documents:  len(batch.Results),
		Records:    res.Records,
		Failures:   len(batch.Failures),
		Output:     res.Output,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}); err != nil {
		slog.Warn("run: recording run failed", "run_id", runID, "error", err)
	}

	slog.Info("run: complete", "run_id", runID,
		"documents", len(batch.Results), "failures", len(batch.Failures),
		"records", res.Records, "elapsed", res.FinishedAt.Sub(start).Round(time.Millisecond))
	return res, nil
}

// Process extracts one document and stores its results.
func (e *engine) Process(ctx context.Context, entry BatchEntry, opts ...RunOption) (*dispatch.Result, error) {
	o := e.options(opts)
	j, err := e.job(entry)
	if err != nil {
		return nil, err
	}

	cache := newStoreCache(e.store, e.extractors, e.cfg.Cleaner, "", o.force)
	res, ok, err := cache.Lookup(ctx, j)
	if err != nil {
		slog.Warn("process: cache lookup failed", "path", j.Path, "error", err)
	} else if ok {
		res.Cached = true
		return res, nil
	}

	res, err = e.dispatcher.Process(ctx, j)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(ctx, res); err != nil {
		return nil, fmt.Errorf("saving results: %w", err)
	}
	return res, nil
}

func (e *engine) table(ctx context.Context, supplier string) (*dispatch.Table, error) {
	recs, err := e.store.ListRecords(ctx, supplier)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	t := dispatch.NewTable()
	for _, r := range recs {
		t.Append(toRecord(r))
	}
	return t, nil
}

// Export writes the stored records to path, CSV or XLSX by extension.
func (e *engine) Export(ctx context.Context, path, supplier string) (int, error) {
	if path == "" {
		path = export.DefaultFilename
	}
	t, err := e.table(ctx, supplier)
	if err != nil {
		return 0, err
	}
	if err := export.ForPath(path).Export(path, t.Columns(), t.Rows()); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrExportFailed, path, err)
	}
	slog.Info("export: table written", "output", path, "rows", t.Len(), "supplier", supplier)
	return t.Len(), nil
}

// WriteTable streams the stored records in the given format.
func (e *engine) WriteTable(ctx context.Context, w io.Writer, format, supplier string) error {
	t, err := e.table(ctx, supplier)
	if err != nil {
		return err
	}
	var ex interface {
		WriteTo(io.Writer, []string, [][]any) error
	}
	switch strings.ToLower(format) {
	case "csv":
		ex = export.CSV{}
	case "", "xlsx":
		ex = export.XLSX{}
	default:
		return fmt.Errorf("%w: unknown export format %q", ErrExportFailed, format)
	}
	if err := ex.WriteTo(w, t.Columns(), t.Rows()); err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	return nil
}

func (e *engine) Records(ctx context.Context, supplier string) ([]store.Record, error) {
	return e.store.ListRecords(ctx, supplier)
}

func (e *engine) Search(ctx context.Context, query string, limit int) ([]store.RecordMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.store.SearchRecords(ctx, query, limit)
}

func (e *engine) Similar(ctx context.Context, text string, k int) ([]store.RecordMatch, error) {
	if k <= 0 {
		k = 10
	}
	return e.store.SimilarRecords(ctx, text, k)
}

func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDocumentNotFound
		}
		return err
	}
	slog.Info("engine: document deleted", "doc_id", id)
	return nil
}

func (e *engine) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListRuns(ctx, limit)
}

func (e *engine) Stats(ctx context.Context) (*store.DBStats, error) {
	return e.store.DBStats(ctx)
}

func (e *engine) Layouts() []extract.Key {
	return e.extractors.Keys()
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}
