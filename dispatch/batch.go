package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Cache lets Run reuse the results of documents that have not changed since
// they were last processed, and keep the ones it produces.
type Cache interface {
	Lookup(ctx context.Context, job Job) (*Result, bool, error)
	Save(ctx context.Context, res *Result) error
}

// RunOptions controls a batch run.
type RunOptions struct {
	// ContinueOnError records a failing document and moves on instead of
	// aborting the batch.
	ContinueOnError bool
	Cache           Cache
}

// Failure is a document that could not be processed.
type Failure struct {
	Job Job    `json:"job"`
	Err string `json:"error"`
}

// Batch is the outcome of a run, in job order.
type Batch struct {
	Results  []*Result `json:"results"`
	Failures []Failure `json:"failures,omitempty"`
	Table    *Table    `json:"-"`
}

// Run processes jobs in the order given and consolidates their records.
func (d *Dispatcher) Run(ctx context.Context, jobs []Job, opts RunOptions) (*Batch, error) {
	batch := &Batch{Table: NewTable()}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := d.runOne(ctx, job, opts.Cache)
		if err != nil {
			if !opts.ContinueOnError {
				return nil, fmt.Errorf("processing %s: %w", job.Path, err)
			}
			slog.Error("dispatch: document failed", "file", filepath.Base(job.Path),
				"supplier", job.Supplier, "error", err)
			batch.Failures = append(batch.Failures, Failure{Job: job, Err: err.Error()})
			continue
		}

		batch.Results = append(batch.Results, res)
		batch.Table.Append(res.Records...)
	}

	for _, c := range batch.Table.Counts() {
		slog.Info("dispatch: supplier total", "supplier", c.Supplier, "records", c.Records)
	}
	return batch, nil
}

func (d *Dispatcher) runOne(ctx context.Context, job Job, cache Cache) (*Result, error) {
	if cache != nil {
		res, ok, err := cache.Lookup(ctx, job)
		if err != nil {
			slog.Warn("dispatch: cache lookup failed", "file", filepath.Base(job.Path), "error", err)
		} else if ok {
			slog.Info("dispatch: document unchanged", "file", filepath.Base(job.Path),
				"supplier", job.Supplier, "records", len(res.Records))
			res.Cached = true
			return res, nil
		}
	}

	res, err := d.Process(ctx, job)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Save(ctx, res); err != nil {
			return nil, fmt.Errorf("saving results: %w", err)
		}
	}
	return res, nil
}
